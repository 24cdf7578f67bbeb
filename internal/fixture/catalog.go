// Package fixture serves fixed step responses for a diagnostic process so an
// orchestrator can be exercised without real backend systems.
package fixture

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/diagflow/internal/workflow"
	"github.com/animus-labs/diagflow/internal/workflow/executor"
)

//go:embed fixtures.yaml
var defaultDocument []byte

type Document struct {
	Processes []Process `yaml:"processes"`
}

type Process struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one fixed-output endpoint. Entry steps start a workflow and require
// a correlation key; KeyField copies that key into the result data.
type Step struct {
	Path     string       `yaml:"path"`
	Entry    bool         `yaml:"entry,omitempty"`
	KeyField string       `yaml:"key_field,omitempty"`
	Result   StepTemplate `yaml:"result"`
}

type StepTemplate struct {
	Name           string         `yaml:"name"`
	Data           map[string]any `yaml:"data,omitempty"`
	NextActivities NextTemplate   `yaml:"next_activities,omitempty"`
}

type NextTemplate struct {
	Parallelizable bool          `yaml:"parallelizable"`
	Definitions    []RefTemplate `yaml:"definitions,omitempty"`
}

// RefTemplate points at another step either by process-relative Path or by absolute URL.
type RefTemplate struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

// Catalog indexes a validated Document by process and step path.
type Catalog struct {
	doc   Document
	steps map[string]map[string]Step
}

func Default() (*Catalog, error) {
	return Parse(defaultDocument)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return New(doc)
}

func New(doc Document) (*Catalog, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	c := &Catalog{doc: doc, steps: make(map[string]map[string]Step, len(doc.Processes))}
	for _, p := range doc.Processes {
		byPath := make(map[string]Step, len(p.Steps))
		for _, s := range p.Steps {
			byPath[cleanPath(s.Path)] = s
		}
		c.steps[strings.TrimSpace(p.Name)] = byPath
	}
	return c, nil
}

func (d Document) Validate() error {
	if len(d.Processes) == 0 {
		return errors.New("fixtures.processes must be non-empty")
	}
	seenProc := make(map[string]struct{}, len(d.Processes))
	for i, p := range d.Processes {
		name := strings.TrimSpace(p.Name)
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("processes[%d].name is required and must not contain '/'", i)
		}
		if _, dup := seenProc[name]; dup {
			return fmt.Errorf("processes[%d].name duplicates %q", i, name)
		}
		seenProc[name] = struct{}{}

		paths := make(map[string]struct{}, len(p.Steps))
		for j, s := range p.Steps {
			if !strings.HasPrefix(strings.TrimSpace(s.Path), "/") {
				return fmt.Errorf("%s.steps[%d].path must start with '/'", name, j)
			}
			path := cleanPath(s.Path)
			if _, dup := paths[path]; dup {
				return fmt.Errorf("%s.steps[%d].path duplicates %q", name, j, path)
			}
			paths[path] = struct{}{}
			if strings.TrimSpace(s.Result.Name) == "" {
				return fmt.Errorf("%s%s: result.name is required", name, path)
			}
		}

		for _, s := range p.Steps {
			seenRef := make(map[string]struct{}, len(s.Result.NextActivities.Definitions))
			for k, ref := range s.Result.NextActivities.Definitions {
				refName := strings.TrimSpace(ref.Name)
				if refName == "" {
					return fmt.Errorf("%s%s: definitions[%d].name is required", name, cleanPath(s.Path), k)
				}
				if _, dup := seenRef[refName]; dup {
					return fmt.Errorf("%s%s: definitions[%d].name duplicates %q", name, cleanPath(s.Path), k, refName)
				}
				seenRef[refName] = struct{}{}
				switch {
				case ref.URL != "" && ref.Path != "":
					return fmt.Errorf("%s%s: definitions[%d] sets both path and url", name, cleanPath(s.Path), k)
				case ref.URL != "":
					if u, err := url.Parse(ref.URL); err != nil || !u.IsAbs() {
						return fmt.Errorf("%s%s: definitions[%d].url must be absolute", name, cleanPath(s.Path), k)
					}
				default:
					if _, ok := paths[cleanPath(ref.Path)]; !ok {
						return fmt.Errorf("%s%s: definitions[%d].path %q is not a step of %s", name, cleanPath(s.Path), k, ref.Path, name)
					}
				}
			}
		}
		if _, err := activityNames(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) Lookup(process, path string) (Step, bool) {
	byPath, ok := c.steps[strings.TrimSpace(process)]
	if !ok {
		return Step{}, false
	}
	s, ok := byPath[cleanPath(path)]
	return s, ok
}

// Entries lists every entry step as an activity reference against baseURL.
// An entry is named after the result it renders, so a root reference and the
// result it produces agree.
func (c *Catalog) Entries(baseURL string) []workflow.ActivityRef {
	var out []workflow.ActivityRef
	for _, p := range c.doc.Processes {
		for _, s := range p.Steps {
			if s.Entry {
				out = append(out, workflow.ActivityRef{Name: strings.TrimSpace(s.Result.Name), Target: StepURL(baseURL, p.Name, s.Path)})
			}
		}
	}
	return out
}

// Render produces the StepResult for s. Activity paths resolve against baseURL.
func (s Step) Render(process, baseURL string, input map[string]any) workflow.StepResult {
	data := workflow.CloneData(s.Result.Data)
	if data == nil {
		data = map[string]any{}
	}
	if s.KeyField != "" {
		data[s.KeyField] = input["key"]
	}
	defs := make([]workflow.ActivityRef, 0, len(s.Result.NextActivities.Definitions))
	for _, ref := range s.Result.NextActivities.Definitions {
		target := ref.URL
		if target == "" {
			target = StepURL(baseURL, process, ref.Path)
		}
		defs = append(defs, workflow.ActivityRef{Name: strings.TrimSpace(ref.Name), Target: target})
	}
	return workflow.StepResult{
		Process: process,
		Name:    s.Result.Name,
		Data:    data,
		NextActivities: workflow.NextActivities{
			Parallelizable: s.Result.NextActivities.Parallelizable,
			Definitions:    defs,
		},
	}
}

// Registry exposes every step as an in-process executor, keyed by the names
// other steps use to reference it. Entry steps are keyed by their result name.
func (c *Catalog) Registry(baseURL string) (*executor.Registry, error) {
	reg := executor.NewRegistry(nil)
	for _, p := range c.doc.Processes {
		names, err := activityNames(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		paths := make([]string, 0, len(names))
		for path := range names {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			step, _ := c.Lookup(p.Name, path)
			if err := reg.Register(names[path], stepExecutor(p.Name, baseURL, step)); err != nil {
				return nil, fmt.Errorf("register %s%s: %w", p.Name, path, err)
			}
		}
	}
	return reg, nil
}

// activityNames maps each referenced or entry path of p to its activity name.
// A path must carry one name and a name must point at one path.
func activityNames(p Process) (map[string]string, error) {
	names := make(map[string]string)
	paths := make(map[string]string)
	bind := func(path, name string) error {
		if prev, ok := names[path]; ok && prev != name {
			return fmt.Errorf("path %q is referenced as both %q and %q", path, prev, name)
		}
		if prev, ok := paths[name]; ok && prev != path {
			return fmt.Errorf("activity %q points at both %q and %q", name, prev, path)
		}
		names[path] = name
		paths[name] = path
		return nil
	}
	for _, s := range p.Steps {
		if s.Entry {
			if err := bind(cleanPath(s.Path), strings.TrimSpace(s.Result.Name)); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range p.Steps {
		for _, ref := range s.Result.NextActivities.Definitions {
			if ref.Path == "" {
				continue
			}
			if err := bind(cleanPath(ref.Path), strings.TrimSpace(ref.Name)); err != nil {
				return nil, err
			}
		}
	}
	return names, nil
}

// stepExecutor renders s per call when it echoes the caller's key and serves a
// pre-rendered result otherwise.
func stepExecutor(process, baseURL string, s Step) executor.Executor {
	if s.KeyField == "" {
		return executor.Static(s.Render(process, baseURL, nil))
	}
	return executor.Func(func(ctx context.Context, _ workflow.ActivityRef, input map[string]any) (workflow.StepResult, error) {
		if err := ctx.Err(); err != nil {
			return workflow.StepResult{}, err
		}
		return s.Render(process, baseURL, input), nil
	})
}

func StepURL(baseURL, process, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + process + cleanPath(path)
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
