package ingestion

import (
	"strings"
	"unicode/utf8"
)

const (
	RoleIdentity = "identity"
	RoleContact  = "contact"

	// MaxChunkChars bounds the text of a single chunk.
	MaxChunkChars = 6000
)

// Chunk is one retrievable unit of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Role       string
	Text       string
}

// ChunkRecord splits a record into its identity and contact chunks. The
// result is deterministic for a given input.
func ChunkRecord(docID string, rec Record) [2]Chunk {
	header := "Organization: " + rec.Name
	if rec.ShortName != "" {
		header += " (" + rec.ShortName + ")"
	}

	identity := []string{header}
	identity = appendField(identity, "Type", rec.Type)
	identity = appendField(identity, "Status", rec.Status)
	identity = appendField(identity, "Summary", rec.Summary)
	identity = appendField(identity, "Description", rec.Description)

	contact := []string{header}
	contact = appendField(contact, "Email", rec.Email)
	contact = appendField(contact, "Primary Contact", rec.ContactName)
	contact = appendField(contact, "Phone", rec.Phone)
	contact = appendField(contact, "Address", joinNonEmpty(", ", rec.Street, rec.City, rec.State, rec.Zip))
	contact = appendField(contact, "Website", rec.Website)
	contact = appendField(contact, "Instagram", rec.Instagram)
	contact = appendField(contact, "Facebook", rec.Facebook)
	contact = appendField(contact, "Twitter", rec.Twitter)
	contact = appendField(contact, "LinkedIn", rec.LinkedIn)
	contact = appendField(contact, "YouTube", rec.YouTube)
	if len(contact) == 1 {
		contact = append(contact, "No contact information available.")
	}

	return [2]Chunk{
		{
			ID:         docID + "_" + RoleIdentity,
			DocumentID: docID,
			Role:       RoleIdentity,
			Text:       truncateRunes(strings.Join(identity, "\n"), MaxChunkChars),
		},
		{
			ID:         docID + "_" + RoleContact,
			DocumentID: docID,
			Role:       RoleContact,
			Text:       truncateRunes(strings.Join(contact, "\n"), MaxChunkChars),
		},
	}
}

func appendField(lines []string, label, value string) []string {
	if value == "" {
		return lines
	}
	return append(lines, label+": "+value)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
