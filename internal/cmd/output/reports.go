package output

import (
	"strconv"
	"strings"
	"time"

	"github.com/agentstation/dupewatch/pkg/events"
	"github.com/agentstation/dupewatch/pkg/reconciler"
)

// ResultReport is the printable form of a reconciliation result.
type ResultReport struct {
	AssetID     string           `json:"asset_id" yaml:"asset_id"`
	Checksum    string           `json:"checksum" yaml:"checksum"`
	Duplicates  []string         `json:"duplicates" yaml:"duplicates"`
	Flagged     bool             `json:"flagged" yaml:"flagged"`
	FlagUpdated bool             `json:"flag_updated" yaml:"flag_updated"`
	Stage       string           `json:"stage" yaml:"stage"`
	Relations   []RelationReport `json:"relations" yaml:"relations"`
	Errors      []string         `json:"errors,omitempty" yaml:"errors,omitempty"`
	Duration    string           `json:"duration" yaml:"duration"`
	DryRun      bool             `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// RelationReport is the printable form of one relation outcome.
type RelationReport struct {
	Target string `json:"target" yaml:"target"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewResultReport builds a report from res. A nil result yields an empty report.
func NewResultReport(res *reconciler.Result) ResultReport {
	if res == nil {
		return ResultReport{Duplicates: []string{}, Relations: []RelationReport{}}
	}

	report := ResultReport{
		AssetID:     res.AssetID,
		Checksum:    res.Checksum,
		Duplicates:  res.Duplicates,
		Flagged:     res.Flagged,
		FlagUpdated: res.FlagUpdated,
		Stage:       string(res.Stage),
		Relations:   make([]RelationReport, 0, len(res.Relations)),
		Duration:    res.Duration().Round(time.Millisecond).String(),
	}
	for _, rel := range res.Relations {
		r := RelationReport{Target: rel.TargetID}
		switch {
		case rel.Created:
			r.Status = "created"
		case rel.AlreadyExisted:
			r.Status = "existing"
		default:
			r.Status = "failed"
			if rel.Err != nil {
				r.Error = rel.Err.Error()
			}
		}
		report.Relations = append(report.Relations, r)
	}
	for _, err := range res.Errors {
		report.Errors = append(report.Errors, err.Error())
	}
	return report
}

// TableData implements Tabler.
func (r ResultReport) TableData() Data {
	duplicates := strings.Join(r.Duplicates, ", ")
	if duplicates == "" {
		duplicates = "-"
	}

	rows := [][]string{
		{"Asset", r.AssetID},
		{"Checksum", r.Checksum},
		{"Duplicates", duplicates},
		{"Flagged", strconv.FormatBool(r.Flagged)},
		{"Flag Updated", strconv.FormatBool(r.FlagUpdated)},
		{"Stage", r.Stage},
		{"Duration", r.Duration},
	}
	if r.DryRun {
		rows = append(rows, []string{"Dry Run", "true"})
	}
	for _, rel := range r.Relations {
		status := rel.Status
		if rel.Error != "" {
			status += ": " + rel.Error
		}
		rows = append(rows, []string{"Relation → " + rel.Target, status})
	}
	for _, e := range r.Errors {
		rows = append(rows, []string{"Error", e})
	}

	return Data{
		Headers:         []string{"Property", "Value"},
		Rows:            rows,
		ColumnAlignment: []Align{AlignLeft, AlignLeft},
	}
}

// ChangeReport is the printable form of an interpreted notification.
type ChangeReport struct {
	AssetID     string `json:"asset_id" yaml:"asset_id"`
	Triggered   bool   `json:"triggered" yaml:"triggered"`
	NewChecksum string `json:"new_checksum,omitempty" yaml:"new_checksum,omitempty"`
	Field       string `json:"field" yaml:"field"`
	Fields      int    `json:"changed_fields" yaml:"changed_fields"`
}

// NewChangeReport describes what the interpreter made of n.
func NewChangeReport(n *events.ChangeNotification, field string, change events.ChecksumChange, ok bool) ChangeReport {
	report := ChangeReport{Field: field, Triggered: ok}
	if n != nil {
		report.AssetID = n.AssetID
		report.Fields = len(n.ChangedMetadata)
	}
	if ok {
		report.NewChecksum = change.NewChecksum
	}
	return report
}
