package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/publication-pipeline/internal/enrich"
	"github.com/jonathan/publication-pipeline/internal/store"
	"github.com/jonathan/publication-pipeline/internal/types"
)

func newStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(title string, source types.Source) types.PublicationRecord {
	return types.PublicationRecord{
		Title:    title,
		Authors:  "Zoë Ångström\nBob <Chen>",
		DatePub:  "2019",
		Source:   source,
		Journal:  string(source),
		Abstract: types.AbstractNA,
	}
}

func readRecords(t *testing.T, path string) []types.PublicationRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []types.PublicationRecord
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestExport_WritesStoreOrderWithoutIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := []types.PublicationRecord{
		rec("Zeta", types.SourceIEEE),
		rec("Alpha", types.SourceACM),
		rec("Mu", types.SourceScienceDirect),
	}
	for _, r := range want {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "out", "export.json")
	result, err := Export(ctx, s, Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)

	got := readRecords(t, path)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exported records mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)
	assert.NotContains(t, text, `"id"`)
	assert.NotContains(t, text, `"ID"`)
	assert.Contains(t, text, "Zoë Ångström", "non-ASCII must be preserved")
	assert.Contains(t, text, "<Chen>", "HTML characters must not be escaped")
	assert.Contains(t, text, "\n    {\n        \"title\"", "four-space indentation")
}

func TestExport_EmptyStoreWritesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")

	result, err := Export(context.Background(), newStore(t), Options{Path: path})
	require.NoError(t, err)
	assert.Zero(t, result.Records)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))
}

func TestExport_SourceFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("a", types.SourceACM))
	_, _ = s.Insert(ctx, rec("b", types.SourceIEEE))

	path := filepath.Join(t.TempDir(), "acm.json")
	_, err := Export(ctx, s, Options{Path: path, Source: types.SourceACM})
	require.NoError(t, err)

	got := readRecords(t, path)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
}

func TestExport_Enriched(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("a", types.SourceACM))
	_, err := enrich.Run(ctx, s, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "facts.json")
	result, err := Export(ctx, s, Options{Path: path, Enriched: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0], "quartile")
	assert.Contains(t, rows[0], "generated_keywords")
	assert.NotContains(t, rows[0], "etl_timestamp")
}

func TestExport_EmptyPath(t *testing.T) {
	_, err := Export(context.Background(), newStore(t), Options{})
	var eerr *Error
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "prepare", eerr.Step)
}

func TestExport_SkipsRecordsThatFailSchema(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	valid := rec("Alpha", types.SourceACM)
	legacyDate := rec("Beta", types.SourceIEEE)
	legacyDate.DatePub = "Unknown Date"
	legacySource := rec("Gamma", types.Source("ACM Digital Library"))
	for _, r := range []types.PublicationRecord{valid, legacyDate, legacySource} {
		_, err := s.Insert(ctx, r)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "export.json")
	result, err := Export(ctx, s, Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Records)
	assert.Equal(t, 2, result.Skipped)

	got := readRecords(t, path)
	require.Len(t, got, 1)
	assert.Equal(t, "Alpha", got[0].Title)

	result, err = Export(ctx, s, Options{Path: path, SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Zero(t, result.Skipped)
}

func TestExport_OverwritesAtomically(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))

	_, _ = s.Insert(ctx, rec("a", types.SourceACM))
	_, err := Export(ctx, s, Options{Path: path})
	require.NoError(t, err)

	assert.Len(t, readRecords(t, path), 1)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must be cleaned up")
}

func TestMarshal(t *testing.T) {
	data, err := Marshal([]string{"é", "<b>"})
	require.NoError(t, err)
	assert.Equal(t, "[\n    \"é\",\n    \"<b>\"\n]\n", string(data))
}

// fakeS3 records PutObject calls.
type fakeS3 struct {
	s3iface.S3API
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Uploader_Upload(t *testing.T) {
	client := &fakeS3{}
	u := NewS3UploaderWithClient(client, "bucket", "/exports/")
	at := time.Date(2024, 6, 7, 8, 9, 10, 0, time.UTC)

	result, err := u.Upload(context.Background(), "export.json", []byte(`[]`), at)
	require.NoError(t, err)
	assert.Equal(t, "exports/2024-06-07/export-20240607-080910.json.gz", result.Key)
	assert.EqualValues(t, 2, result.OriginalSize)

	require.Len(t, client.inputs, 1)
	assert.Equal(t, "bucket", aws.StringValue(client.inputs[0].Bucket))
	assert.Equal(t, "gzip", aws.StringValue(client.inputs[0].ContentEncoding))

	gz, err := gzip.NewReader(bytes.NewReader(client.bodies[0]))
	require.NoError(t, err)
	plain, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(plain))
}

func TestExport_UploadFailureKeepsLocalSnapshot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("a", types.SourceACM))

	client := &fakeS3{err: errors.New("access denied")}
	path := filepath.Join(t.TempDir(), "export.json")

	result, err := Export(ctx, s, Options{Path: path, Uploader: NewS3UploaderWithClient(client, "b", "")})
	require.NoError(t, err)
	assert.Nil(t, result.Upload)
	assert.FileExists(t, path)
}

func TestExport_UploadsSnapshot(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Insert(ctx, rec("a", types.SourceACM))

	client := &fakeS3{}
	path := filepath.Join(t.TempDir(), "export.json")
	result, err := Export(ctx, s, Options{Path: path, Uploader: NewS3UploaderWithClient(client, "b", "p")})
	require.NoError(t, err)
	require.NotNil(t, result.Upload)
	assert.True(t, strings.HasPrefix(result.Upload.Key, "p/"))
	assert.Len(t, client.inputs, 1)
}
