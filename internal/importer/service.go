// Package importer performs bulk user onboarding from CSV uploads.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/warrant-labs/sentinel/internal/directory"
)

// DirectoryPort is the slice of the directory service the importer uses.
type DirectoryPort interface {
	CreateUser(ctx context.Context, in directory.CreateUserInput) (directory.User, uint64, error)
}

// RowResult reports the outcome for one CSV data row. Line numbers are
// 1-based and count the header.
type RowResult struct {
	Line   int       `json:"line"`
	UserID uuid.UUID `json:"userId,omitempty"`
	Email  string    `json:"email,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Report summarises one import run.
type Report struct {
	Imported        int         `json:"imported"`
	Failed          int         `json:"failed"`
	Rows            []RowResult `json:"rows"`
	SnapshotVersion uint64      `json:"snapshotVersion"`
}

// Service parses CSV uploads and creates users row by row. Rows are
// independent: a bad row is reported and skipped, good rows commit.
type Service struct {
	directory DirectoryPort
}

// NewService builds an importer service.
func NewService(dir DirectoryPort) *Service {
	return &Service{directory: dir}
}

// Import reads a CSV stream with header email,displayName,departmentId
// (department optional) and creates one user per data row. Display names
// are NFC-normalized so visually identical names compare equal.
func (s *Service) Import(ctx context.Context, body io.Reader) (Report, error) {
	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Report{}, fmt.Errorf("importer: read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return Report{}, err
	}

	report := Report{Rows: []RowResult{}}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			report.Failed++
			report.Rows = append(report.Rows, RowResult{Line: line, Error: err.Error()})
			continue
		}
		result := s.importRow(ctx, cols, record, line)
		if result.Error != "" {
			report.Failed++
		} else {
			report.Imported++
			report.SnapshotVersion = result.version
		}
		report.Rows = append(report.Rows, result.RowResult)
	}
	return report, nil
}

type rowOutcome struct {
	RowResult
	version uint64
}

func (s *Service) importRow(ctx context.Context, cols columns, record []string, line int) rowOutcome {
	out := rowOutcome{RowResult: RowResult{Line: line}}
	field := func(idx int) string {
		if idx < 0 || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	email := field(cols.email)
	displayName := norm.NFC.String(field(cols.displayName))
	out.Email = email

	var deptID uuid.UUID
	if raw := field(cols.department); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			out.Error = fmt.Sprintf("invalid department id %q", raw)
			return out
		}
		deptID = id
	}

	u, version, err := s.directory.CreateUser(ctx, directory.CreateUserInput{
		DisplayName:  displayName,
		Email:        email,
		DepartmentID: deptID,
	})
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.UserID = u.ID
	out.version = version
	return out
}

type columns struct {
	email       int
	displayName int
	department  int
}

func mapColumns(header []string) (columns, error) {
	cols := columns{email: -1, displayName: -1, department: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "email":
			cols.email = i
		case "displayname", "display_name":
			cols.displayName = i
		case "departmentid", "department_id":
			cols.department = i
		}
	}
	if cols.email < 0 || cols.displayName < 0 {
		return cols, errors.New("importer: header must name email and displayName columns")
	}
	return cols, nil
}
