// Package shader reflects the host-visible interface of WGSL compute
// modules: resource bindings, compute entry points and their workgroup
// sizes. Source is parsed, lowered and validated by naga, so a module
// that reflects is also one naga accepts.
//
// Devices use [Module.CheckLayout] to validate a bind group layout against
// the bindings a kernel declares, which is how an argument list that does
// not match the kernel surfaces as a validation error.
package shader
