package lua

import (
	"sort"
	"sync"
)

// Function is a named procedure owned by a library
type Function struct {
	Name     string
	Library  string
	NoWrites bool
}

// Library is a named set of functions loaded from one body. A Library is
// immutable once installed; replacing it installs a new value.
type Library struct {
	Name      string
	Code      string
	Functions map[string]*Function

	version uint64
}

// FunctionNames returns the names of the functions of l in order
func (l *Library) FunctionNames() []string {
	names := make([]string, 0, len(l.Functions))
	for name := range l.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds scripts by digest and libraries by name. Library
// replacement and deletion are all-or-nothing: readers observe either the
// old or the new set of functions, never a mix.
type Registry struct {
	mu        sync.RWMutex
	scripts   map[string]string
	libraries map[string]*Library
	functions map[string]*Function

	// version numbers installed libraries; gen changes on every library
	// change so interpreters know when to re-sync
	version uint64
	gen     uint64
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		scripts:   make(map[string]string),
		libraries: make(map[string]*Library),
		functions: make(map[string]*Function),
	}
}

// Script returns the body stored under sha
func (r *Registry) Script(sha string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	body, ok := r.scripts[sha]
	return body, ok
}

// AddScript stores body under sha and reports whether it was new
func (r *Registry) AddScript(sha, body string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[sha]; ok {
		return false
	}
	r.scripts[sha] = body
	return true
}

// ScriptExists reports for each digest whether a script is stored
func (r *Registry) ScriptExists(shas []string) []bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]bool, len(shas))
	for i, sha := range shas {
		_, out[i] = r.scripts[sha]
	}
	return out
}

// NumScripts returns the number of stored scripts
func (r *Registry) NumScripts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

// FlushScripts removes every script and returns their digests
func (r *Registry) FlushScripts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	shas := make([]string, 0, len(r.scripts))
	for sha := range r.scripts {
		shas = append(shas, sha)
	}
	r.scripts = make(map[string]string)
	return shas
}

// Generation changes whenever a library is installed or removed
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Library returns the library called name
func (r *Registry) Library(name string) (*Library, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lib, ok := r.libraries[name]
	return lib, ok
}

// Function resolves a function and its owning library
func (r *Registry) Function(name string) (*Function, *Library, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[name]
	if !ok {
		return nil, nil, false
	}
	return fn, r.libraries[fn.Library], true
}

// Libraries returns every library ordered by name
func (r *Registry) Libraries() []*Library {
	r.mu.RLock()
	defer r.mu.RUnlock()
	libs := make([]*Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		libs = append(libs, lib)
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i].Name < libs[j].Name })
	return libs
}

// ReplaceLibrary installs lib. It fails with LibraryConflictError when
// the name is taken and replace is false, or when one of its functions
// belongs to another library. commit runs before the swap with the library
// being replaced (nil if none); if it fails nothing changes.
func (r *Registry) ReplaceLibrary(lib *Library, replace bool, commit func(old *Library) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.libraries[lib.Name]
	if exists && !replace {
		return &LibraryConflictError{Library: lib.Name}
	}
	for name := range lib.Functions {
		if fn, ok := r.functions[name]; ok && fn.Library != lib.Name {
			return &LibraryConflictError{Library: lib.Name, Function: name}
		}
	}

	if commit != nil {
		if err := commit(old); err != nil {
			return err
		}
	}

	if exists {
		r.unlinkLocked(old)
	}
	r.installLocked(lib)
	return nil
}

// DeleteLibrary removes the library called name and all its functions.
// commit runs before the removal; if it fails nothing changes.
func (r *Registry) DeleteLibrary(name string, commit func(lib *Library) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lib, ok := r.libraries[name]
	if !ok {
		return &NotFoundError{Kind: "library", Name: name}
	}
	if commit != nil {
		if err := commit(lib); err != nil {
			return err
		}
	}
	r.unlinkLocked(lib)
	r.gen++
	return nil
}

// FlushLibraries removes every library. commit receives the libraries
// about to be removed; if it fails nothing changes.
func (r *Registry) FlushLibraries(commit func(libs []*Library) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	libs := make([]*Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		libs = append(libs, lib)
	}
	if commit != nil {
		if err := commit(libs); err != nil {
			return err
		}
	}
	r.libraries = make(map[string]*Library)
	r.functions = make(map[string]*Function)
	r.gen++
	return nil
}

// restoreLibrary installs a persisted library without conflict checks
func (r *Registry) restoreLibrary(lib *Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.libraries[lib.Name]; ok {
		r.unlinkLocked(old)
	}
	r.installLocked(lib)
}

// reset replaces the whole registry content
func (r *Registry) reset(scripts map[string]string, libs []*Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = scripts
	r.libraries = make(map[string]*Library, len(libs))
	r.functions = make(map[string]*Function)
	for _, lib := range libs {
		r.installLocked(lib)
	}
	r.gen++
}

func (r *Registry) installLocked(lib *Library) {
	r.version++
	lib.version = r.version
	r.libraries[lib.Name] = lib
	for name, fn := range lib.Functions {
		r.functions[name] = fn
	}
	r.gen++
}

func (r *Registry) unlinkLocked(lib *Library) {
	delete(r.libraries, lib.Name)
	for name := range lib.Functions {
		if fn, ok := r.functions[name]; ok && fn.Library == lib.Name {
			delete(r.functions, name)
		}
	}
}
