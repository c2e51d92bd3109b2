package ingestion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Document is a source file read once for extraction.
type Document struct {
	ID     string
	Path   string
	Format DocumentFormat
	Data   []byte
}

// Record is the structured content pulled out of a document.
type Record struct {
	Name        string
	ShortName   string
	Type        string
	Status      string
	Summary     string
	Description string

	Email       string
	ContactName string
	Phone       string
	Street      string
	City        string
	State       string
	Zip         string
	Website     string
	Instagram   string
	Facebook    string
	Twitter     string
	LinkedIn    string
	YouTube     string
}

// ExtractionError reports a document that could not be turned into a Record.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

var (
	errEmptyDocument     = errors.New("no extractable text")
	errMissingOrg        = errors.New("app state has no organization")
	errUnsupportedFormat = errors.New("unsupported format")

	appStatePattern = regexp.MustCompile(`(?s)window\.initialAppState\s*=\s*(\{.*?\});\s*</script>`)
)

type appState struct {
	PreFetchedData struct {
		Organization *orgPayload `json:"organization"`
	} `json:"preFetchedData"`
}

type orgPayload struct {
	Name             string `json:"name"`
	ShortName        string `json:"shortName"`
	Summary          string `json:"summary"`
	Status           string `json:"status"`
	Description      string `json:"description"`
	Email            string `json:"email"`
	OrganizationType *struct {
		Name string `json:"name"`
	} `json:"organizationType"`
	PrimaryContact *struct {
		PreferredFirstName string `json:"preferredFirstName"`
		FirstName          string `json:"firstName"`
		LastName           string `json:"lastName"`
	} `json:"primaryContact"`
	ContactInfo []struct {
		PhoneNumber string `json:"phoneNumber"`
		Street1     string `json:"street1"`
		City        string `json:"city"`
		State       string `json:"state"`
		Zip         string `json:"zip"`
	} `json:"contactInfo"`
	SocialMedia *struct {
		ExternalWebsite string `json:"externalWebsite"`
		InstagramURL    string `json:"instagramUrl"`
		FacebookURL     string `json:"facebookUrl"`
		TwitterURL      string `json:"twitterUrl"`
		LinkedInURL     string `json:"linkedInUrl"`
		YoutubeURL      string `json:"youtubeUrl"`
	} `json:"socialMedia"`
}

// ExtractRecord converts a document into a Record according to its format.
// Failures are reported as *ExtractionError.
func ExtractRecord(doc Document) (Record, error) {
	var (
		rec Record
		err error
	)

	switch doc.Format {
	case FormatHTML:
		rec, err = extractHTML(doc.Data)
	case FormatPDF:
		var text string
		text, err = extractPDF(doc.Data)
		if err == nil {
			rec = recordFromText(text)
		}
	case FormatText:
		rec = recordFromText(string(doc.Data))
	default:
		err = errUnsupportedFormat
	}

	if err == nil && rec.Name == "" && rec.Description == "" {
		err = errEmptyDocument
	}
	if err != nil {
		return Record{}, &ExtractionError{Path: doc.Path, Err: err}
	}
	return rec, nil
}

// DocumentText returns the readable text of a document without extracting a
// record from it.
func DocumentText(doc Document) (string, error) {
	var (
		text string
		err  error
	)
	switch doc.Format {
	case FormatHTML:
		text, err = HTMLToText(bytes.NewReader(doc.Data))
	case FormatPDF:
		text, err = extractPDF(doc.Data)
	case FormatText:
		text = string(doc.Data)
	default:
		err = errUnsupportedFormat
	}
	if err != nil {
		return "", &ExtractionError{Path: doc.Path, Err: err}
	}
	return strings.TrimSpace(text), nil
}

func extractHTML(data []byte) (Record, error) {
	if match := appStatePattern.FindSubmatch(data); match != nil {
		return extractAppState(match[1])
	}

	text, err := HTMLToText(bytes.NewReader(data))
	if err != nil {
		return Record{}, err
	}
	return Record{
		Name:        strings.TrimSpace(htmlTitle(bytes.NewReader(data))),
		Description: strings.TrimSpace(text),
	}, nil
}

func extractAppState(blob []byte) (Record, error) {
	var state appState
	if err := json.Unmarshal(blob, &state); err != nil {
		return Record{}, fmt.Errorf("decode app state: %w", err)
	}
	org := state.PreFetchedData.Organization
	if org == nil {
		return Record{}, errMissingOrg
	}

	rec := Record{
		Name:        strings.TrimSpace(org.Name),
		ShortName:   strings.TrimSpace(org.ShortName),
		Status:      strings.TrimSpace(org.Status),
		Summary:     strings.TrimSpace(org.Summary),
		Description: htmlFragmentToText(org.Description),
		Email:       strings.TrimSpace(org.Email),
	}
	if rec.Name == "" {
		rec.Name = "Unknown"
	}
	if org.OrganizationType != nil {
		rec.Type = strings.TrimSpace(org.OrganizationType.Name)
	}
	if pc := org.PrimaryContact; pc != nil {
		first := pc.PreferredFirstName
		if first == "" {
			first = pc.FirstName
		}
		rec.ContactName = strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(pc.LastName))
	}
	if len(org.ContactInfo) > 0 {
		ci := org.ContactInfo[0]
		rec.Phone = strings.TrimSpace(ci.PhoneNumber)
		rec.Street = strings.TrimSpace(ci.Street1)
		rec.City = strings.TrimSpace(ci.City)
		rec.State = strings.TrimSpace(ci.State)
		rec.Zip = strings.TrimSpace(ci.Zip)
	}
	if sm := org.SocialMedia; sm != nil {
		rec.Website = strings.TrimSpace(sm.ExternalWebsite)
		rec.Instagram = strings.TrimSpace(sm.InstagramURL)
		rec.Facebook = strings.TrimSpace(sm.FacebookURL)
		rec.Twitter = strings.TrimSpace(sm.TwitterURL)
		rec.LinkedIn = strings.TrimSpace(sm.LinkedInURL)
		rec.YouTube = strings.TrimSpace(sm.YoutubeURL)
	}
	return rec, nil
}

// recordFromText treats the first non-empty line as the name and the rest as
// the description.
func recordFromText(text string) Record {
	var (
		rec  Record
		rest []string
	)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if rec.Name == "" {
			rec.Name = line
			continue
		}
		rest = append(rest, line)
	}
	rec.Description = strings.Join(rest, "\n")
	return rec
}
