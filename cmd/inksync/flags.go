package main

import (
	"github.com/spf13/pflag"
)

// bindFlag lets a flag override the config key when it is set.
func bindFlag(f *pflag.Flag, key string) {
	if f == nil {
		panic("unknown flag for " + key)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
