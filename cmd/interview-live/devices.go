package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sjawhar/interview-live/internal/capture"
	"github.com/sjawhar/interview-live/internal/device"
	"github.com/sjawhar/interview-live/internal/media"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices and the default selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := media.NewHostBackend()
		if err := backend.Open(); err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		registry := device.NewRegistry(backend)
		sel := registry.Initialize(cmd.Context())
		if err := registry.Err(); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "\tKIND\tID\tLABEL")
		for _, d := range registry.Devices() {
			mark := ""
			if d.ID == sel.Audio || d.ID == sel.Video {
				mark = "*"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, d.Kind, d.ID, d.Label)
		}
		return w.Flush()
	},
}

var micCheckCmd = &cobra.Command{
	Use:   "mic-check",
	Short: "Record a short clip from the selected microphone and play it back",
	RunE: func(cmd *cobra.Command, args []string) error {
		backend := media.NewHostBackend()
		if err := backend.Open(); err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		registry := device.NewRegistry(backend)
		registry.Initialize(cmd.Context())
		if err := registry.Err(); err != nil {
			return err
		}

		check := &capture.MicCheck{
			Backend:    backend,
			Devices:    registry,
			Player:     capture.NewExecPlayer(),
			Duration:   cfg.ParsedMicCheckDuration(),
			SampleRate: cfg.Capture.SampleRate,
		}
		fmt.Printf("Recording %s from the selected microphone...\n", check.Duration)
		res, err := check.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Device %s: %s recorded, peak level %.2f\n", res.DeviceID, res.Duration.Round(10*time.Millisecond), res.Peak)
		if res.Peak < 0.01 {
			fmt.Println("Warning: the clip is nearly silent. Check the microphone selection and input volume.")
		}
		return nil
	},
}
