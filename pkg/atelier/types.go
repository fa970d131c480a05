package atelier

import (
	"encoding/json"
	"fmt"
)

// Item categories as reported by the server.
const (
	CategoryCSP     = "CSP"
	CategoryClass   = "CLS"
	CategoryRoutine = "RTN"
)

// StatusError is one server-reported error from a response's status block.
// These are protocol-level failures, distinct from HTTP transport failures.
type StatusError struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// ProtocolError is returned when the server reports errors in a response
// that was otherwise delivered successfully.
type ProtocolError struct {
	Errors []StatusError
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf("server error %d: %s", err.Errors[0].Code, err.Errors[0].Message)
}

// Code returns the first reported error code.
func (err ProtocolError) Code() int {
	return err.Errors[0].Code
}

// response is the envelope every API endpoint wraps its payload in.
type response struct {
	Status struct {
		Errors []StatusError `json:"errors"`
	} `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Item is one server-side source artifact eligible for sync. Immutable once
// produced by the catalog listing.
type Item struct {
	Name      string `json:"name"`
	Timestamp string `json:"ts"`
	Category  string `json:"cat"`
	Database  string `json:"db"`
	Generated bool   `json:"gen"`
	Deployed  bool   `json:"depl"`
}

// Database is one entry of a bulk "modified items" response: the documents of
// one database, flagged when the database is a system database.
type Database struct {
	Name   string `json:"name"`
	System bool   `json:"dbsys"`
	Docs   []Item `json:"docs"`
}

// Document is the payload of a single-document retrieval. Content is
// returned line by line: lines of text for text documents, chunks of base64
// for binary ones.
type Document struct {
	Name      string   `json:"name"`
	Category  string   `json:"cat"`
	Timestamp string   `json:"ts"`
	Encoded   bool     `json:"enc"`
	Content   []string `json:"content"`
}

// queryRequest is the body of an action/query POST.
type queryRequest struct {
	Query      string   `json:"query"`
	Parameters []string `json:"parameters,omitempty"`
}
