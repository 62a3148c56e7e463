package artifact

import (
	"path/filepath"
	"testing"
)

func TestWriteReadMetaFirstRowRoundTrip(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "urls-level-2.json")

	rows := []Row{
		{"url": "https://h/a"},
		{"url": "https://h/b"},
	}
	if err := Write(base, rows, Meta{Level: 2, Kind: "urls"}, MetaFirstRow); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(base)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0]["_meta"] != true {
		t.Errorf("row 0 missing _meta: %+v", got[0])
	}
	if got[0]["url"] != "https://h/a" {
		t.Errorf("row 0 missing url: %+v", got[0])
	}
	if got[1]["url"] != "https://h/b" {
		t.Errorf("row 1 url mismatch: %+v", got[1])
	}
}

func TestWriteEmptyRemovesArtifact(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "urls-level-2.json")

	if err := Write(base, []Row{{"url": "https://h/a"}}, Meta{Level: 2, Kind: "urls"}, Legacy); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Write(base, nil, Meta{Level: 2, Kind: "urls"}, Legacy); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	rows, err := Read(base)
	if err != nil {
		t.Fatalf("read after removal: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows after empty write, got %d", len(rows))
	}
}

func TestMetaFirstRowAndLegacyIsomorphic(t *testing.T) {
	dir := t.TempDir()
	rows := []Row{
		{"url": "https://h/a"},
		{"url": "https://h/b"},
	}

	metaBase := filepath.Join(dir, "meta.json")
	legacyBase := filepath.Join(dir, "legacy.json")

	if err := Write(metaBase, rows, Meta{Level: 3, Kind: "urls"}, MetaFirstRow); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	if err := Write(legacyBase, rows, Meta{Level: 3, Kind: "urls"}, Legacy); err != nil {
		t.Fatalf("write legacy: %v", err)
	}

	metaRows, err := Read(metaBase)
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	legacyRows, err := Read(legacyBase)
	if err != nil {
		t.Fatalf("read legacy: %v", err)
	}

	metaURLs := URLsOf(metaRows)
	legacyURLs := URLsOf(legacyRows)
	if len(metaURLs) != len(legacyURLs) {
		t.Fatalf("url count mismatch: %v vs %v", metaURLs, legacyURLs)
	}
	for i := range metaURLs {
		if metaURLs[i] != legacyURLs[i] {
			t.Errorf("index %d: %q vs %q", i, metaURLs[i], legacyURLs[i])
		}
	}
}

func TestWriteChunkedPartsSumToTotal(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "urls-level-2.json")

	var rows []Row
	for i := 0; i < 23; i++ {
		rows = append(rows, Row{"url": filepath.Join("https://h/", itoaTest(i))})
	}

	if err := WriteChunked(base, rows, Meta{Level: 2, Kind: "urls"}, MetaFirstRow, 10); err != nil {
		t.Fatalf("write chunked: %v", err)
	}

	all, err := ReadChunked(base)
	if err != nil {
		t.Fatalf("read chunked: %v", err)
	}
	if len(all) != 23 {
		t.Errorf("expected 23 rows, got %d", len(all))
	}
}

func TestWriteChunkedEmptyRemovesManifest(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "urls-level-2.json")

	rows := []Row{{"url": "https://h/a"}}
	if err := WriteChunked(base, rows, Meta{Level: 2, Kind: "urls"}, Legacy, 10); err != nil {
		t.Fatalf("write chunked: %v", err)
	}
	if err := WriteChunked(base, nil, Meta{Level: 2, Kind: "urls"}, Legacy, 10); err != nil {
		t.Fatalf("write chunked empty: %v", err)
	}

	all, err := ReadChunked(base)
	if err != nil {
		t.Fatalf("read chunked after manifest removal: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no rows after empty chunked write, got %d", len(all))
	}
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
