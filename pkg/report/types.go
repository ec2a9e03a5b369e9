package report

// ConsolidatedReport is the typed summary of one autopkg invocation.
type ConsolidatedReport struct {
	FailedItems        []FailedItem        `json:"failed_items"`
	DownloadedItems    []DownloadedItem    `json:"downloaded_items"`
	PkgBuiltItems      []PkgBuiltItem      `json:"pkg_built_items"`
	MunkiImportedItems []MunkiImportedItem `json:"munki_imported_items"`

	// OtherSummaries holds data rows of any other processor summary, keyed
	// by processor name without the "_summary_result" suffix.
	OtherSummaries map[string][]map[string]string `json:"other_summaries,omitempty"`
}

// FailedItem is one entry of the report's failures section.
type FailedItem struct {
	Message   string `json:"message"`
	Recipe    string `json:"recipe"`
	Traceback string `json:"traceback,omitempty"`
}

// DownloadedItem is a row of the URLDownloader summary. DownloadPath is
// empty when the row did not carry one.
type DownloadedItem struct {
	DownloadPath string `json:"download_path"`
}

// PkgBuiltItem is a row of the PkgCreator summary.
type PkgBuiltItem struct {
	Identifier string `json:"identifier"`
	PkgPath    string `json:"pkg_path"`
	Version    string `json:"version"`
}

// MunkiImportedItem is a row of the MunkiImporter summary.
type MunkiImportedItem struct {
	Catalogs     []string `json:"catalogs"`
	IconRepoPath string   `json:"icon_repo_path,omitempty"`
	Name         string   `json:"name"`
	PkgInfoPath  string   `json:"pkginfo_path"`
	PkgRepoPath  string   `json:"pkg_repo_path"`
	Version      string   `json:"version"`
}

// HasDownloads reports whether the run fetched at least one new artifact.
func (c ConsolidatedReport) HasDownloads() bool {
	return len(c.DownloadedItems) > 0
}

// HasFailures reports whether autopkg recorded any failure.
func (c ConsolidatedReport) HasFailures() bool {
	return len(c.FailedItems) > 0
}
