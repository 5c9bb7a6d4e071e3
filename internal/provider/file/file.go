// Package file serves raw objects from JSON or YAML documents on disk, one
// document per resource kind.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type FileProvider struct {
	Interop   *interop.Interop
	Dir       string
	PageSize  int
	itemsPath jp.Expr
}

var extensions = []string{".json", ".yaml", ".yml"}

func init() {
	provider.RegisterProvider("file", New)
}

func New(i *interop.Interop, v *viper.Viper) (provider.Provider, error) {
	dir := v.GetString("dir")
	if dir == "" {
		return nil, fmt.Errorf("missing file provider directory")
	}

	fp := &FileProvider{
		Interop:  i,
		Dir:      dir,
		PageSize: v.GetInt("pageSize"),
	}

	if s := v.GetString("itemsPath"); s != "" {
		x, err := jp.ParseString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid itemsPath '%s': %w", s, err)
		}
		fp.itemsPath = x
	}

	return fp, nil
}

func (fp *FileProvider) Fetch(
	ctx context.Context,
	kind string,
	emit provider.EmitFn,
) error {
	path, err := fp.find(kind)
	if err != nil {
		return provider.Wrap(kind, provider.REASON_OTHER, err)
	}

	fp.Interop.Logger.Debugf("reading %s objects from %s", kind, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return provider.Wrap(kind, provider.REASON_OTHER, err)
	}

	var doc interface{}

	if filepath.Ext(path) == ".json" {
		doc, err = oj.Parse(data)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return provider.Wrap(kind, provider.REASON_OTHER, fmt.Errorf("%s: %w", path, err))
	}

	items, err := fp.items(doc)
	if err != nil {
		return provider.Wrap(kind, provider.REASON_OTHER, fmt.Errorf("%s: %w", path, err))
	}

	fp.Interop.Logger.Tracef("read %d %s objects", len(items), kind)

	return provider.EmitPages(ctx, kind, items, fp.PageSize, emit)
}

func (fp *FileProvider) find(kind string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(fp.Dir, kind+ext)

		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}

	return "", fmt.Errorf("no document for kind %s in %s", kind, fp.Dir)
}

// items selects the objects of a document: the results of itemsPath when
// set, otherwise the document itself when it is a list.
func (fp *FileProvider) items(doc interface{}) ([]map[string]interface{}, error) {
	var found []interface{}

	if fp.itemsPath != nil {
		found = fp.itemsPath.Get(doc)
		if len(found) == 1 {
			if list, ok := found[0].([]interface{}); ok {
				found = list
			}
		}
	} else {
		list, ok := doc.([]interface{})
		if !ok {
			return nil, fmt.Errorf("document is not a list and no itemsPath is set")
		}
		found = list
	}

	items := make([]map[string]interface{}, 0, len(found))
	for n, f := range found {
		m, err := cast.ToStringMapE(f)
		if err != nil {
			return nil, fmt.Errorf("item %d is not an object: %w", n, err)
		}
		items = append(items, m)
	}

	return items, nil
}
