// Package types holds the backend-agnostic value types shared by every layer
// of rhi: resource descriptors, resource identifiers, the barrier state
// vocabulary and the error taxonomy.
//
// Nothing in this package references a native GPU object. Descriptors use
// the WebGPU-style enumerations from github.com/gogpu/gputypes so that the
// same value can be handed to either backend.
package types
