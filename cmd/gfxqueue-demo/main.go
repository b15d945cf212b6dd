// Command gfxqueue-demo exercises the command submission engine against the
// in-process mock device: it submits a batch of frames, drives an
// asynchronous CommandProcessor, and prints the resulting counters.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gfxqueue"
	"github.com/gogpu/gfxqueue/internal/mockdevice"
)

func main() {
	var (
		frames  = flag.Int("frames", 240, "number of frames to submit")
		async   = flag.Bool("async", true, "drive submission through a CommandProcessor instead of directly")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		gfxqueue.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	dev := mockdevice.New()
	poolAccess := gfxqueue.NewCommandPoolAccess()
	if err := poolAccess.InitPool(gfxqueue.ProtectionUnprotected); err != nil {
		log.Fatalf("init pool: %v", err)
	}

	garbage := gfxqueue.NewSimpleGarbageList()
	tracker := gfxqueue.NewSerialTracker(1)
	cfg := gfxqueue.DefaultConfig()

	queue := gfxqueue.NewCommandQueue(dev, poolAccess, tracker, garbage, cfg)

	if *async {
		runAsync(queue, poolAccess, tracker, cfg, *frames)
	} else {
		runSync(queue, poolAccess, *frames)
	}

	counters := queue.Counters()
	log.Printf("submitted %d frames: %d device submits, %d wait-semaphores, %d presents",
		*frames, counters.SubmitCallsTotal, counters.WaitSemaphoresTotal, counters.PresentCallsTotal)
}

func runSync(queue *gfxqueue.CommandQueue, poolAccess *gfxqueue.CommandPoolAccess, frames int) {
	for i := 0; i < frames; i++ {
		buf := gfxqueue.CommandBufferHandle(i + 1)
		if err := poolAccess.FlushOutsideRP(gfxqueue.ProtectionUnprotected, gfxqueue.PriorityHigh, buf); err != nil {
			log.Fatalf("frame %d: flush: %v", i, err)
		}

		serial := gfxqueue.QueueSerial{Index: 0, Serial: gfxqueue.Serial(i + 1)}
		if err := queue.SubmitCommands(gfxqueue.ProtectionUnprotected, gfxqueue.PriorityHigh, 0, 0, serial); err != nil {
			log.Fatalf("frame %d: submit: %v", i, err)
		}

		if i%16 == 0 {
			if err := queue.PostSubmitCheck(); err != nil {
				log.Fatalf("frame %d: post-submit check: %v", i, err)
			}
		}
	}

	if err := queue.WaitIdle(5 * time.Second); err != nil {
		log.Fatalf("wait idle: %v", err)
	}
}

func runAsync(queue *gfxqueue.CommandQueue, poolAccess *gfxqueue.CommandPoolAccess, tracker *gfxqueue.SerialTracker, cfg gfxqueue.Config, frames int) {
	proc := gfxqueue.NewCommandProcessor(queue, poolAccess, tracker, cfg)
	defer proc.Close()

	for i := 0; i < frames; i++ {
		buf := gfxqueue.CommandBufferHandle(i + 1)
		if err := proc.EnqueueFlushOutsideRPCommands(gfxqueue.ProtectionUnprotected, gfxqueue.PriorityHigh, buf); err != nil {
			log.Fatalf("frame %d: enqueue flush: %v", i, err)
		}

		serial := gfxqueue.QueueSerial{Index: 0, Serial: gfxqueue.Serial(i + 1)}
		if err := proc.EnqueueSubmitCommands(gfxqueue.ProtectionUnprotected, gfxqueue.PriorityHigh, 0, 0, serial); err != nil {
			log.Fatalf("frame %d: enqueue submit: %v", i, err)
		}
	}

	if err := proc.WaitForAllWorkToBeSubmitted(); err != nil {
		log.Fatalf("drain: %v", err)
	}
}
