// Package rhi is a GPU backend abstraction layer for Go.
//
// # Overview
//
// rhi lets one rendering codebase drive Metal and Vulkan through a single
// interface. It exposes typed resource handles, a bindless resource table,
// a content-keyed pipeline cache, single-writer command recorders and
// multi-frame synchronization. Native work is done by gogpu/wgpu's hal
// layer; rhi decides what is valid and when things may be released.
//
// # Quick Start
//
//	import "github.com/gogpu/rhi"
//
//	dev, err := rhi.New(rhi.WithFramesInFlight(2))
//	if err != nil {
//	    return err // wraps rhi.ErrBackendUnavailable without a usable GPU
//	}
//	defer dev.Close()
//
//	buf, _ := dev.CreateBuffer(rhi.BufferDescriptor{
//	    Size:  256,
//	    Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
//	})
//	slot, _ := dev.Bindless().Register(buf)
//
//	f, _ := dev.BeginFrame(ctx)
//	rec := f.Recorder("main")
//	rec.BindPipeline(pipeline)
//	rec.BindResources(slot)
//	rec.Dispatch(64, 1, 1)
//	cb, err := rec.End()
//	...
//	err = f.Submit(cb)
//
// # Handles and lifetime
//
// Every object is named by a Handle. A Handle is valid only on the Device
// that issued it and only until destroyed; stale, foreign and zero handles
// return ErrInvalidHandle. Destroying a resource removes its handle at
// once, but the native object is released only after every frame that may
// reference it has completed on the GPU.
//
// # Backends
//
// Vulkan and Metal register themselves on import. New picks one backend,
// from WithBackend, the RHI_BACKEND environment variable, or the best
// available, and never mixes them within a Device.
//
// # Bindless layout
//
// Shaders see bind group 0 as the bindless heap (storage buffers, then
// sampled textures, then samplers, each range holding the configured
// capacity) and bind group 1 as a uniform block of up to 64 native slot
// indices published by CommandRecorder.BindResources. Caller layouts start
// at group 2.
package rhi
