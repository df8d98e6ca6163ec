package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"leasecore/internal/domain"
)

// ZeroEntryHash anchors the first entry of every lease's chain.
func ZeroEntryHash() string {
	return "0000000000000000000000000000000000000000000000000000000000000000"
}

// VerifyLeaseAuditChain walks a lease's audit history and returns an error
// describing the first broken link: a gap in the sequence, a prev-hash that
// does not match, or an entry whose recorded hashes do not match its
// content. A nil error means the trail is intact.
func VerifyLeaseAuditChain(ctx context.Context, repo AuditRepository, leaseID string) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	if leaseID == "" {
		return errors.New("lease_id is required")
	}
	entries, err := repo.History(ctx, leaseID)
	if err != nil {
		return err
	}

	expectedSeq := int64(1)
	prevHash := ZeroEntryHash()
	for _, entry := range entries {
		if entry.LeaseID != leaseID {
			return fmt.Errorf("audit chain lease mismatch at seq %d", entry.Seq)
		}
		if entry.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, entry.Seq)
		}
		if entry.PrevEntryHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", entry.Seq)
		}
		detailHash, err := DetailHash(entry.Detail)
		if err != nil {
			return fmt.Errorf("audit chain detail encode failed at seq %d: %w", entry.Seq, err)
		}
		if detailHash != entry.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", entry.Seq)
		}
		if entry.CreatedAt.IsZero() {
			return fmt.Errorf("audit chain missing created_at at seq %d", entry.Seq)
		}
		expectedHash, err := EntryHash(entry)
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", entry.Seq, err)
		}
		if expectedHash != entry.EntryHash {
			return fmt.Errorf("audit chain entry hash mismatch at seq %d", entry.Seq)
		}
		prevHash = entry.EntryHash
		expectedSeq++
	}
	return nil
}

// DetailHash digests the canonical encoding of an entry's detail payload.
func DetailHash(detail map[string]any) (string, error) {
	canonical, err := CanonicalDetail(detail)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

// EntryHash computes the chain hash covering an entry's identifying fields,
// its payload hash and the previous entry's hash.
func EntryHash(entry domain.AuditEntry) (string, error) {
	if entry.LeaseID == "" || entry.Action == "" {
		return "", errors.New("audit entry missing lease_id or action")
	}
	if entry.PayloadHash == "" || entry.PrevEntryHash == "" {
		return "", errors.New("audit entry missing payload_hash or prev_entry_hash")
	}
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeKV(buf, "action", string(entry.Action), false)
	writeKV(buf, "actor_id", entry.ActorID, false)
	writeKV(buf, "actor_role", entry.ActorRole, false)
	writeKV(buf, "created_at", entry.CreatedAt.UTC().Format(time.RFC3339Nano), false)
	writeKV(buf, "lease_id", entry.LeaseID, false)
	writeKV(buf, "new_state", string(entry.NewState), false)
	writeKV(buf, "old_state", string(entry.OldState), false)
	writeKV(buf, "payload_hash", entry.PayloadHash, false)
	writeKV(buf, "prev_entry_hash", entry.PrevEntryHash, false)
	writeKVNumber(buf, "seq", entry.Seq, false)
	writeKVNumber(buf, "v", domain.AuditChainVersion, true)
	buf.WriteByte('}')
	return sha256Hex(buf.Bytes()), nil
}

// CanonicalDetail encodes a detail map deterministically: object keys sorted
// lexicographically at every level, values in encoding/json form.
func CanonicalDetail(detail map[string]any) ([]byte, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	buf := &bytes.Buffer{}
	if err := writeCanonicalValue(buf, detail); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonicalValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonicalValue(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(encoded)
		return nil
	}
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}

func writeKV(buf *bytes.Buffer, key, value string, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
	if !last {
		buf.WriteByte(',')
	}
}

func writeKVNumber(buf *bytes.Buffer, key string, value int64, last bool) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(value, 10))
	if !last {
		buf.WriteByte(',')
	}
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")
