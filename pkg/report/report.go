// Package report reads the plist report autopkg writes with --report-plist
// and reduces it to a ConsolidatedReport.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"howett.net/plist"
)

// Summary result keys written by autopkg processors.
const (
	SummaryURLDownloader = "url_downloader_summary_result"
	SummaryPkgCreator    = "pkg_creator_summary_result"
	SummaryMunkiImporter = "munki_importer_summary_result"
)

// ParseError is returned when the report file exists but is not a valid plist.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid report plist %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type rawFailure struct {
	Message   string `plist:"message"`
	Recipe    string `plist:"recipe"`
	Traceback string `plist:"traceback"`
}

type rawSummary struct {
	DataRows    []map[string]interface{} `plist:"data_rows"`
	Header      []string                 `plist:"header"`
	SummaryText string                   `plist:"summary_text"`
}

type rawReport struct {
	Failures       []rawFailure          `plist:"failures"`
	SummaryResults map[string]rawSummary `plist:"summary_results"`
}

// Report is a handle on one report file. It keeps no content between
// Refresh calls other than the last parse.
type Report struct {
	path string
	raw  rawReport
}

// New returns a handle for the report at path. Nothing is read until Refresh.
func New(path string) *Report {
	return &Report{path: path}
}

// FilePath returns the report location passed to autopkg.
func (r *Report) FilePath() string {
	return r.path
}

// Refresh re-reads the report from disk. A missing or empty file yields an
// empty report since autopkg may fail before writing anything.
func (r *Report) Refresh() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.raw = rawReport{}
			return nil
		}
		return fmt.Errorf("failed to read report %s: %w", r.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		r.raw = rawReport{}
		return nil
	}

	var raw rawReport
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return &ParseError{Path: r.path, Err: err}
	}
	r.raw = raw
	return nil
}

// Consolidate reduces the last refreshed content.
func (r *Report) Consolidate() ConsolidatedReport {
	out := ConsolidatedReport{
		FailedItems:        make([]FailedItem, 0, len(r.raw.Failures)),
		DownloadedItems:    []DownloadedItem{},
		PkgBuiltItems:      []PkgBuiltItem{},
		MunkiImportedItems: []MunkiImportedItem{},
	}

	for _, f := range r.raw.Failures {
		out.FailedItems = append(out.FailedItems, FailedItem{
			Message:   f.Message,
			Recipe:    f.Recipe,
			Traceback: f.Traceback,
		})
	}

	keys := make([]string, 0, len(r.raw.SummaryResults))
	for k := range r.raw.SummaryResults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rows := r.raw.SummaryResults[key].DataRows
		switch key {
		case SummaryURLDownloader:
			for _, row := range rows {
				out.DownloadedItems = append(out.DownloadedItems, DownloadedItem{
					DownloadPath: stringValue(row["download_path"]),
				})
			}
		case SummaryPkgCreator:
			for _, row := range rows {
				out.PkgBuiltItems = append(out.PkgBuiltItems, PkgBuiltItem{
					Identifier: stringValue(row["identifier"]),
					PkgPath:    stringValue(row["pkg_path"]),
					Version:    stringValue(row["version"]),
				})
			}
		case SummaryMunkiImporter:
			for _, row := range rows {
				out.MunkiImportedItems = append(out.MunkiImportedItems, MunkiImportedItem{
					Catalogs:     stringList(row["catalogs"]),
					IconRepoPath: stringValue(row["icon_repo_path"]),
					Name:         stringValue(row["name"]),
					PkgInfoPath:  stringValue(row["pkginfo_path"]),
					PkgRepoPath:  stringValue(row["pkg_repo_path"]),
					Version:      stringValue(row["version"]),
				})
			}
		default:
			if len(rows) == 0 {
				continue
			}
			if out.OtherSummaries == nil {
				out.OtherSummaries = make(map[string][]map[string]string)
			}
			converted := make([]map[string]string, 0, len(rows))
			for _, row := range rows {
				m := make(map[string]string, len(row))
				for k, v := range row {
					m[k] = stringValue(v)
				}
				converted = append(converted, m)
			}
			out.OtherSummaries[strings.TrimSuffix(key, "_summary_result")] = converted
		}
	}

	return out
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		return strings.Join(stringList(t), ", ")
	default:
		return fmt.Sprint(t)
	}
}

func stringList(v interface{}) []string {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, stringValue(item))
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
