// Package metal adapts the wgpu Metal hal to the rhi backend contract.
//
// Metal tracks buffer hazards per command encoder, so buffer barriers and
// every texture barrier except the transition to Present are dropped.
// Bindless slots are numbered across one flat argument table. Shaders
// must be WGSL; the hal translates them to MSL.
//
// The backend registers itself on darwin only. On other platforms the
// package is empty.
package metal
