package notebook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/inksync/internal/types"
)

// Problem is a notebook directory that could not be read. The directory is
// skipped; the rest of the scan continues.
type Problem struct {
	Key string
	Err error
}

// Reader enumerates notebooks below a backup root.
type Reader struct {
	root   string
	logger zerolog.Logger
}

// NewReader creates a reader for the given backup root.
func NewReader(root string, logger zerolog.Logger) *Reader {
	return &Reader{root: root, logger: logger}
}

// Root returns the backup root.
func (r *Reader) Root() string {
	return r.root
}

// Scan walks the backup root and returns every readable notebook, sorted by
// key, plus one Problem per notebook directory that failed to parse.
// Problems wrap types.ErrLocalInput. The error return is reserved for an
// unreadable root.
func (r *Reader) Scan(ctx context.Context) ([]*types.Notebook, []Problem, error) {
	info, err := os.Stat(r.root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open backup root %s: %w", r.root, err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("backup root %s is not a directory", r.root)
	}

	var notebooks []*types.Notebook
	var problems []Problem

	err = filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == r.root {
				return err
			}
			r.logger.Warn().Err(err).Str("path", p).Msg("skipping unreadable path")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.IsDir() {
			return nil
		}
		if p == r.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		id, ok, err := documentID(p)
		if err != nil {
			problems = append(problems, Problem{Key: r.key(p), Err: fmt.Errorf("%w: %v", types.ErrLocalInput, err)})
			return nil
		}
		if !ok {
			return nil
		}

		nb, isNotebook, err := r.read(p, id)
		if err != nil {
			r.logger.Warn().Err(err).Str("key", r.key(p)).Msg("skipping notebook with invalid metadata")
			problems = append(problems, Problem{Key: r.key(p), Err: err})
			return filepath.SkipDir
		}
		if !isNotebook {
			return nil
		}
		notebooks = append(notebooks, nb)
		return filepath.SkipDir
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan backup root %s: %w", r.root, err)
	}

	sort.Slice(notebooks, func(i, j int) bool { return notebooks[i].Key < notebooks[j].Key })
	return notebooks, problems, nil
}

// Read loads the single notebook stored in dir, which must be below the
// backup root.
func (r *Reader) Read(dir string) (*types.Notebook, error) {
	id, ok, err := documentID(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrLocalInput, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no metadata file in %s", types.ErrLocalInput, dir)
	}
	nb, isNotebook, err := r.read(dir, id)
	if err != nil {
		return nil, err
	}
	if !isNotebook {
		return nil, fmt.Errorf("%w: %s is not a notebook", types.ErrLocalInput, dir)
	}
	return nb, nil
}

func (r *Reader) read(dir, id string) (*types.Notebook, bool, error) {
	base := filepath.Join(dir, id)

	meta, err := ReadMetadataFile(base + ".metadata")
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrLocalInput, err)
	}
	if !meta.IsNotebook() {
		return nil, false, nil
	}

	content, err := ReadContentFile(base + ".content")
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrLocalInput, err)
	}

	pdfPath := base + ".pdf"
	if st, err := os.Stat(pdfPath); err != nil || st.IsDir() {
		return nil, false, fmt.Errorf("%w: missing page source %s", types.ErrLocalInput, pdfPath)
	}

	count := content.Count()
	if count < 1 {
		return nil, false, fmt.Errorf("%w: notebook %s has no pages", types.ErrLocalInput, meta.VisibleName)
	}
	pages := make([]types.PageSource, count)
	for i := range pages {
		pages[i] = types.PageSource{PDFPath: pdfPath, Number: i + 1}
	}

	key := r.key(dir)
	folder := path.Dir(key)
	if folder == "." {
		folder = ""
	}

	created := meta.CreatedTime.Time()
	if created.IsZero() {
		created = meta.LastModified.Time()
	}

	return &types.Notebook{
		Key:        key,
		Name:       meta.VisibleName,
		Folder:     folder,
		CreatedAt:  types.NormalizeTime(created),
		ModifiedAt: types.NormalizeTime(meta.LastModified.Time()),
		PDFPath:    pdfPath,
		Pages:      pages,
		Tags:       types.NormalizeTags(content.TagNames()),
	}, true, nil
}

func (r *Reader) key(dir string) string {
	rel, err := filepath.Rel(r.root, dir)
	if err != nil {
		return filepath.ToSlash(dir)
	}
	return filepath.ToSlash(rel)
}

// documentID returns the shared file stem of the single .metadata file in
// dir. ok is false for directories without one (plain folders).
func documentID(dir string) (id string, ok bool, err error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.metadata"))
	if err != nil {
		return "", false, err
	}
	switch len(matches) {
	case 0:
		return "", false, nil
	case 1:
		return strings.TrimSuffix(filepath.Base(matches[0]), ".metadata"), true, nil
	default:
		return "", false, errors.New("more than one metadata file in " + dir)
	}
}
