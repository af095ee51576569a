package usajobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/fedjobs/aggregator/internal/jobs"
)

// searchEnvelope mirrors the source's search response.
type searchEnvelope struct {
	LanguageCode string `json:"LanguageCode"`
	SearchResult struct {
		SearchResultItems    []searchResultItem `json:"SearchResultItems"`
		SearchResultCountAll int                `json:"SearchResultCountAll"`
	} `json:"SearchResult"`
}

type searchResultItem struct {
	MatchedObjectID         string `json:"MatchedObjectId"`
	MatchedObjectDescriptor struct {
		PositionTitle        string `json:"PositionTitle"`
		PublicationStartDate string `json:"PublicationStartDate"`
		OrganizationName     string `json:"OrganizationName"`
		PositionLocation     []struct {
			CityName string `json:"CityName"`
		} `json:"PositionLocation"`
	} `json:"MatchedObjectDescriptor"`
}

// codelistEnvelope mirrors the occupational series codelist response.
type codelistEnvelope struct {
	CodeList []struct {
		ValidValue []struct {
			Code string `json:"Code"`
		} `json:"ValidValue"`
	} `json:"CodeList"`
}

// The source reports publication dates without a zone designator and with
// optional fractional seconds.
var postedAtLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// toPage validates the envelope and maps raw entries to job records. Any
// invalid entry fails the whole page; the caller surfaces it as a source
// error.
func (e searchEnvelope) toPage() (Page, error) {
	records := make([]jobs.JobRecord, 0, len(e.SearchResult.SearchResultItems))
	for i, item := range e.SearchResult.SearchResultItems {
		record, err := item.toRecord()
		if err != nil {
			return Page{}, fmt.Errorf("result item %d: %w", i, err)
		}
		records = append(records, record)
	}
	return Page{
		Jobs:     records,
		CountAll: e.SearchResult.SearchResultCountAll,
		Language: e.LanguageCode,
	}, nil
}

func (item searchResultItem) toRecord() (jobs.JobRecord, error) {
	d := item.MatchedObjectDescriptor

	switch {
	case item.MatchedObjectID == "":
		return jobs.JobRecord{}, fmt.Errorf("missing MatchedObjectId")
	case d.PositionTitle == "":
		return jobs.JobRecord{}, fmt.Errorf("job %s: missing PositionTitle", item.MatchedObjectID)
	case len(d.PositionTitle) > jobs.MaxFieldLength:
		return jobs.JobRecord{}, fmt.Errorf("job %s: PositionTitle exceeds %d chars", item.MatchedObjectID, jobs.MaxFieldLength)
	case d.OrganizationName == "":
		return jobs.JobRecord{}, fmt.Errorf("job %s: missing OrganizationName", item.MatchedObjectID)
	case len(d.OrganizationName) > jobs.MaxFieldLength:
		return jobs.JobRecord{}, fmt.Errorf("job %s: OrganizationName exceeds %d chars", item.MatchedObjectID, jobs.MaxFieldLength)
	}

	postedAt, err := parsePostedAt(d.PublicationStartDate)
	if err != nil {
		return jobs.JobRecord{}, fmt.Errorf("job %s: %w", item.MatchedObjectID, err)
	}

	locations := make([]jobs.Location, 0, len(d.PositionLocation))
	for _, loc := range d.PositionLocation {
		locations = append(locations, parseLocation(loc.CityName))
	}

	return jobs.JobRecord{
		ExternalID:       item.MatchedObjectID,
		Title:            d.PositionTitle,
		PostedAt:         postedAt,
		OrganizationName: d.OrganizationName,
		Locations:        locations,
	}, nil
}

func parsePostedAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing PublicationStartDate")
	}
	for _, layout := range postedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized PublicationStartDate %q", raw)
}

// parseLocation splits a combined "City, State" string on its last ", "
// into lowercased city and state; the raw string is kept as the label.
// A string without a separator is treated as state-only.
func parseLocation(raw string) jobs.Location {
	lower := strings.ToLower(raw)
	loc := jobs.Location{Label: raw}
	if idx := strings.LastIndex(lower, ", "); idx >= 0 {
		loc.City = lower[:idx]
		loc.State = lower[idx+2:]
	} else {
		loc.State = lower
	}
	return loc
}

func (e codelistEnvelope) codes() ([]string, error) {
	if len(e.CodeList) == 0 {
		return nil, fmt.Errorf("codelist response has no CodeList entries")
	}
	values := e.CodeList[0].ValidValue
	codes := make([]string, 0, len(values))
	for _, v := range values {
		codes = append(codes, v.Code)
	}
	return codes, nil
}
