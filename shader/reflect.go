// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/kernelcall/gpucore"
)

// Errors.
var (
	// ErrEmptySource is returned by Reflect for blank shader text.
	ErrEmptySource = errors.New("shader: empty source")

	// ErrLayoutMismatch is wrapped by CheckLayout errors.
	ErrLayoutMismatch = errors.New("shader: layout mismatch")
)

// Access is the access mode of a storage binding.
type Access uint8

// Access modes.
const (
	AccessRead Access = iota
	AccessReadWrite
)

// String returns the WGSL keyword for the access mode.
func (a Access) String() string {
	if a == AccessReadWrite {
		return "read_write"
	}
	return "read"
}

// Binding is a resource variable declared at module scope.
type Binding struct {
	Group   uint32
	Binding uint32
	Name    string

	// AddressSpace is "storage" or "uniform".
	AddressSpace string

	// Access is meaningful for storage bindings only.
	Access Access

	// Type is the declared WGSL type, e.g. "array<f32>".
	Type string
}

// BindingType returns the layout binding type the declaration requires.
func (b Binding) BindingType() gpucore.BindingType {
	switch {
	case b.AddressSpace == "uniform":
		return gpucore.BindingTypeUniformBuffer
	case b.Access == AccessReadWrite:
		return gpucore.BindingTypeStorageBuffer
	default:
		return gpucore.BindingTypeReadOnlyStorageBuffer
	}
}

// EntryPoint is a compute entry point.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
}

// Invocations returns the number of invocations per workgroup.
func (e EntryPoint) Invocations() uint32 {
	return e.WorkgroupSize[0] * e.WorkgroupSize[1] * e.WorkgroupSize[2]
}

// Module is the reflected interface of a WGSL module.
type Module struct {
	fingerprint string
	entries     []EntryPoint
	bindings    []Binding
}

// Reflect parses and validates WGSL source with naga and extracts the
// compute entry points and buffer bindings of the resulting module. Syntax
// and semantic errors are returned with naga's position information.
func Reflect(source string) (*Module, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("shader: %w", err)
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("shader: lower: %w", err)
	}

	bindings, err := reflectBindings(mod)
	if err != nil {
		return nil, err
	}
	entries, err := reflectComputeEntries(mod)
	if err != nil {
		return nil, err
	}

	verrs, err := naga.Validate(mod)
	if err != nil {
		return nil, fmt.Errorf("shader: validate: %w", err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("shader: validate: %w", verrs[0])
	}

	return &Module{
		fingerprint: Fingerprint(source),
		entries:     entries,
		bindings:    bindings,
	}, nil
}

// Fingerprint returns the hex SHA-256 of source. It identifies kernels
// independently of how the source string was built.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the fingerprint of the reflected source.
func (m *Module) Fingerprint() string { return m.fingerprint }

// EntryPoints returns the compute entry points in declaration order.
func (m *Module) EntryPoints() []EntryPoint {
	out := make([]EntryPoint, len(m.entries))
	copy(out, m.entries)
	return out
}

// EntryPoint looks up a compute entry point by name.
func (m *Module) EntryPoint(name string) (EntryPoint, bool) {
	for _, e := range m.entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

// Bindings returns the bindings of a group sorted by binding index.
func (m *Module) Bindings(group uint32) []Binding {
	var out []Binding
	for _, b := range m.bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out
}

// Groups returns the sorted set of group indices the module declares.
func (m *Module) Groups() []uint32 {
	seen := make(map[uint32]bool)
	var out []uint32
	for _, b := range m.bindings {
		if !seen[b.Group] {
			seen[b.Group] = true
			out = append(out, b.Group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckLayout verifies that a bind group layout satisfies every binding the
// module declares in group. Layout entries the shader does not use are
// allowed. A read_write storage binding needs a storage entry; a read
// storage binding accepts read-only-storage or storage.
func (m *Module) CheckLayout(group uint32, entries []gpucore.BindGroupLayoutEntry) error {
	byBinding := make(map[uint32]gpucore.BindGroupLayoutEntry, len(entries))
	for _, e := range entries {
		byBinding[e.Binding] = e
	}

	for _, b := range m.Bindings(group) {
		e, ok := byBinding[b.Binding]
		if !ok {
			return fmt.Errorf("%w: @group(%d) @binding(%d) %q is not in the layout",
				ErrLayoutMismatch, group, b.Binding, b.Name)
		}
		if e.Visibility&gpucore.ShaderStageCompute == 0 {
			return fmt.Errorf("%w: @binding(%d) %q is not visible to the compute stage",
				ErrLayoutMismatch, b.Binding, b.Name)
		}
		if !compatible(b.BindingType(), e.Type) {
			return fmt.Errorf("%w: @binding(%d) %q needs %s, layout has %s",
				ErrLayoutMismatch, b.Binding, b.Name, b.BindingType(), e.Type)
		}
	}
	return nil
}

func compatible(shader, layout gpucore.BindingType) bool {
	if shader == layout {
		return true
	}
	return shader == gpucore.BindingTypeReadOnlyStorageBuffer && layout == gpucore.BindingTypeStorageBuffer
}

func reflectBindings(mod *ir.Module) ([]Binding, error) {
	type key struct{ group, binding uint32 }
	seen := make(map[key]string)
	var out []Binding

	for _, gv := range mod.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := Binding{
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
			Name:    gv.Name,
			Type:    typeName(mod, gv.Type),
		}
		switch gv.Space {
		case ir.SpaceUniform:
			b.AddressSpace = "uniform"
		case ir.SpaceStorage:
			b.AddressSpace = "storage"
			b.Access = AccessRead
			if gv.Access == ir.StorageReadWrite {
				b.Access = AccessReadWrite
			}
		case ir.SpaceHandle:
			return nil, fmt.Errorf("shader: %q: %s bindings are not supported by compute kernels", b.Name, b.Type)
		default:
			return nil, fmt.Errorf("shader: %q: unsupported address space for a binding", b.Name)
		}

		k := key{b.Group, b.Binding}
		if prev, dup := seen[k]; dup {
			return nil, fmt.Errorf("shader: @group(%d) @binding(%d) declared twice (%s, %s)",
				b.Group, b.Binding, prev, b.Name)
		}
		seen[k] = b.Name
		out = append(out, b)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Binding < out[j].Binding
	})
	return out, nil
}

func reflectComputeEntries(mod *ir.Module) ([]EntryPoint, error) {
	var out []EntryPoint
	for _, ep := range mod.EntryPoints {
		if ep.Stage != ir.StageCompute {
			continue
		}
		for i, v := range ep.Workgroup {
			if v == 0 {
				return nil, fmt.Errorf("shader: entry point %q: @workgroup_size dimension %d is zero", ep.Name, i)
			}
		}
		out = append(out, EntryPoint{Name: ep.Name, WorkgroupSize: ep.Workgroup})
	}
	return out, nil
}

// typeName renders an IR type back to WGSL spelling.
func typeName(mod *ir.Module, h ir.TypeHandle) string {
	if int(h) >= len(mod.Types) {
		return "?"
	}
	t := mod.Types[h]
	switch inner := t.Inner.(type) {
	case ir.ScalarType:
		return scalarName(inner)
	case ir.VectorType:
		return fmt.Sprintf("vec%d<%s>", inner.Size, scalarName(inner.Scalar))
	case ir.MatrixType:
		return fmt.Sprintf("mat%dx%d<%s>", inner.Columns, inner.Rows, scalarName(inner.Scalar))
	case ir.AtomicType:
		return "atomic<" + scalarName(inner.Scalar) + ">"
	case ir.ArrayType:
		if inner.Size.Constant != nil {
			return fmt.Sprintf("array<%s, %d>", typeName(mod, inner.Base), *inner.Size.Constant)
		}
		return "array<" + typeName(mod, inner.Base) + ">"
	}
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%T", t.Inner)
}

func scalarName(s ir.ScalarType) string {
	switch s.Kind {
	case ir.ScalarSint:
		return fmt.Sprintf("i%d", int(s.Width)*8)
	case ir.ScalarUint:
		return fmt.Sprintf("u%d", int(s.Width)*8)
	case ir.ScalarFloat:
		return fmt.Sprintf("f%d", int(s.Width)*8)
	case ir.ScalarBool:
		return "bool"
	}
	return "?"
}
