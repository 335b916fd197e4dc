package device_config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/rules"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RulesDirName is the directory next to the device document whose *.yaml
// files each contribute a "rules:" list, appended in file name order.
const RulesDirName = "rules.d"

type Loader struct {
	path     string
	rulesDir string
}

func NewLoader(path string) *Loader {
	return &Loader{path: path, rulesDir: filepath.Join(filepath.Dir(path), RulesDirName)}
}

func (l *Loader) Path() string     { return l.path }
func (l *Loader) RulesDir() string { return l.rulesDir }

// Load reads and validates the device document and the rules directory.
func (l *Loader) Load() (*Document, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, cerrors.ErrConfigUnavailable.WithMessage("read device config %s: %v", l.path, err).WithCause(err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	extra, err := l.loadRulesDir()
	if err != nil {
		return nil, err
	}
	doc.Rules = append(doc.Rules, extra...)

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

type rulesFile struct {
	Rules []rules.Spec `yaml:"rules"`
}

func (l *Loader) loadRulesDir() ([]rules.Spec, error) {
	files, err := utilities.ListFiles(l.rulesDir, ".yaml", ".yml")
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", l.rulesDir)
	}

	var out []rules.Spec
	verr := &cerrors.ConfigValidationError{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			verr.Add(filepath.Base(f), "%s", err)
			continue
		}
		var rf rulesFile
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rf); err != nil && !errors.Is(err, io.EOF) {
			verr.Add(filepath.Base(f), "%v", err)
			continue
		}
		out = append(out, rf.Rules...)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
