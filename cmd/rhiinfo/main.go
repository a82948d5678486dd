// Command rhiinfo opens a device, prints what the backend reports, and
// optionally runs a few compute frames through it as a smoke test.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	"github.com/gogpu/rhi/types"
)

const smokeWGSL = `
@compute @workgroup_size(64)
fn cs_main(@builtin(global_invocation_id) id: vec3<u32>) {
}
`

func main() {
	var (
		name    = flag.String("backend", "", "backend name (default: best available)")
		config  = flag.String("config", "", "TOML or YAML config file")
		frames  = flag.Int("frames", 0, "compute frames to run after opening")
		verbose = flag.Bool("v", false, "log device events to stderr")
	)
	flag.Parse()

	var opts []rhi.Option
	if *config != "" {
		cfg, err := rhi.LoadConfig(*config)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		opts = append(opts, cfg.Options()...)
	}
	if *name != "" {
		opts = append(opts, rhi.WithBackend(*name))
	}
	if *verbose {
		opts = append(opts, rhi.WithLogger(slog.New(slog.NewTextHandler(os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelDebug}))))
	}

	fmt.Printf("Registered backends: %v\n", backend.Available())

	dev, err := rhi.New(opts...)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	printInfo(dev)

	if *frames > 0 {
		if err := runFrames(context.Background(), dev, *frames); err != nil {
			log.Fatalf("Smoke test failed: %v", err)
		}
		st := dev.Stats()
		fmt.Printf("Ran %d frames (last submission %d, completed through %d)\n",
			*frames, st.LastSubmission, st.CompletedThrough)
	}
}

func printInfo(dev *rhi.Device) {
	info := dev.Info()
	fmt.Printf("Backend:          %s (%s)\n", dev.Backend(), info.Backend)
	fmt.Printf("Adapter:          %s [%s]\n", info.Name, info.Type)
	if info.Vendor != "" || info.Driver != "" {
		fmt.Printf("Vendor/driver:    %s / %s\n", info.Vendor, info.Driver)
	}
	fmt.Printf("Frames in flight: %d\n", dev.FramesInFlight())
	fmt.Printf("Bindless slots:   %d per class\n", dev.Bindless().Cap())
	fmt.Printf("Max buffer size:  %d\n", info.Limits.MaxBufferSize)
	fmt.Printf("Max bind groups:  %d\n", info.Limits.MaxBindGroups)
}

// runFrames dispatches an empty compute shader over a bindless storage
// buffer n times, then waits for the device to drain.
func runFrames(ctx context.Context, dev *rhi.Device, n int) error {
	buf, err := dev.CreateBuffer(rhi.BufferDescriptor{
		Label: "smoke",
		Size:  64 * 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	defer func() { _ = dev.DestroyBuffer(buf) }()

	slot, err := dev.Bindless().Register(buf)
	if err != nil {
		return err
	}
	pipe, err := dev.Pipelines().GetOrCreateCompute(&rhi.ComputePipelineDesc{
		Label: "smoke",
		Shader: rhi.ShaderSource{
			Identity:   "smoke.wgsl",
			Stage:      gputypes.ShaderStageCompute,
			EntryPoint: "cs_main",
			WGSL:       smokeWGSL,
		},
	})
	if err != nil {
		return err
	}

	for range n {
		f, err := dev.BeginFrame(ctx)
		if err != nil {
			return err
		}
		rec := f.Recorder("smoke")
		rec.BindPipeline(pipe)
		rec.BindResources(slot)
		rec.Dispatch(1, 1, 1)
		rec.BufferBarrier(buf, types.StateShaderWrite, types.StateShaderRead)
		cb, err := rec.End()
		if err != nil {
			_ = f.Discard()
			return err
		}
		if err := f.Submit(cb); err != nil {
			return err
		}
	}
	return dev.WaitIdle()
}
