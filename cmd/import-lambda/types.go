package main

import (
	"github.com/spf13/viper"

	"github.com/fpang/image-project-importer/internal/config"
)

// ImportEvent is the invocation payload. Zero fields fall back to the
// function environment.
type ImportEvent struct {
	RunID       string `json:"runId,omitempty"`
	TeamID      int    `json:"teamId,omitempty"`
	WorkspaceID int    `json:"workspaceId,omitempty"`
	TaskID      int    `json:"taskId,omitempty"`
	Folder      string `json:"folder,omitempty"`
	File        string `json:"file,omitempty"`
	ArchiveURL  string `json:"archiveUrl,omitempty"`
	ProjectName string `json:"projectName,omitempty"`
	Recursive   *bool  `json:"recursive,omitempty"`
}

// apply overrides the configuration in v with the fields set in e.
func (e ImportEvent) apply(v *viper.Viper) {
	ints := map[string]int{
		config.KeyTeamID:      e.TeamID,
		config.KeyWorkspaceID: e.WorkspaceID,
		config.KeyTaskID:      e.TaskID,
	}
	for k, n := range ints {
		if n != 0 {
			v.Set(k, n)
		}
	}
	strs := map[string]string{config.KeyProjectName: e.ProjectName}
	// An input named by the event replaces any input from the environment.
	if e.Folder != "" || e.File != "" || e.ArchiveURL != "" {
		v.Set(config.KeyFolder, e.Folder)
		v.Set(config.KeyFile, e.File)
		v.Set(config.KeyArchiveURL, e.ArchiveURL)
	}
	for k, s := range strs {
		if s != "" {
			v.Set(k, s)
		}
	}
	if e.Recursive != nil {
		v.Set(config.KeyRecursive, *e.Recursive)
	}
}
