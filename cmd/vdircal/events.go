package main

import (
	"encoding/json"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"vdircal/internal/model"
	"vdircal/internal/vdirsync"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Load every configured collection once, without watching, and print the events as JSON",
	RunE:  runEvents,
}

type eventsDump struct {
	Events   []model.CalendarEvent         `json:"events"`
	Metadata map[string]model.VdirMetadata `json:"metadata"`
	States   map[string]vdirsync.State     `json:"states"`
}

func runEvents(cmd *cobra.Command, _ []string) error {
	engine := vdirsync.NewEngine(vdirsync.ConfigSettings(loadConfig, afero.NewOsFs()))
	if err := engine.Load(cmd.Context()); err != nil {
		return err
	}
	dump := eventsDump{
		Events:   engine.Events(),
		Metadata: engine.AllCollectionMetadata(),
		States:   engine.States(),
	}
	engine.Stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
