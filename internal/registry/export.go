package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"managervnc/internal/apperr"
	"managervnc/internal/db"
	"managervnc/internal/policy"
)

// maxImportRecords caps a single import.
const maxImportRecords = 5000

// Record is the portable form of a machine used by export and import.
type Record struct {
	Name     string   `json:"name"`
	Host     string   `json:"host"`
	Port     int      `json:"port,omitempty"`
	Password *string  `json:"password,omitempty"`
	Notes    *string  `json:"notes,omitempty"`
	Tags     []string `json:"tags"`
	Groups   []string `json:"groups"`
	Shared   bool     `json:"shared"`
}

// ExportOptions selects what Export writes.
type ExportOptions struct {
	Pool             db.Pool
	IncludePasswords bool
}

// ImportResult summarizes an import. Errors are per-record messages.
type ImportResult struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

// Export returns a's visible machines as portable records. Passwords are
// left out unless requested.
func (s *Service) Export(ctx context.Context, a policy.Actor, opts ExportOptions) ([]Record, error) {
	ms, err := s.List(ctx, a, opts.Pool)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ms))
	for _, m := range ms {
		r := Record{
			Name:   m.Name,
			Host:   m.Host,
			Port:   m.Port,
			Notes:  m.Notes,
			Tags:   m.Tags,
			Groups: m.Groups,
			Shared: m.Shared(),
		}
		if opts.IncludePasswords {
			r.Password = m.Password
		}
		out = append(out, r)
	}
	return out, nil
}

// Import creates every record as a personal machine of a, logging an
// import activity row for each. Bad records are counted and skipped.
func (s *Service) Import(ctx context.Context, a policy.Actor, records []Record) (*ImportResult, error) {
	if len(records) > maxImportRecords {
		return nil, apperr.Validation(fmt.Sprintf("import is limited to %d machines", maxImportRecords))
	}
	res := &ImportResult{Errors: []string{}}
	for i, r := range records {
		in := MachineInput{
			Name:     r.Name,
			Host:     r.Host,
			Password: r.Password,
			Notes:    r.Notes,
			Tags:     r.Tags,
			Groups:   r.Groups,
		}
		if r.Port != 0 {
			port := r.Port
			in.Port = &port
		}
		if _, err := s.create(ctx, a, in, ActionImport); err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return nil, err
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("record %d (%s): %s", i, r.Name, apperr.Message(err)))
			continue
		}
		res.Imported++
	}
	return res, nil
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("registry: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("registry: zstd decoder initialization failed: " + err.Error())
	}
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// EncodeRecords renders records as an indented JSON array, zstd-compressed
// when compress is set.
func EncodeRecords(records []Record, compress bool) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, err
	}
	if !compress {
		return b, nil
	}
	return zstdEncoder.EncodeAll(b, nil), nil
}

// DecodeRecords parses a JSON array of records, transparently
// decompressing zstd input.
func DecodeRecords(data []byte) ([]Record, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		data = out
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("invalid file format: %w", err)
	}
	return records, nil
}
