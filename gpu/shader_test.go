package gpu

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/pierrec/lz4"
)

func spirvBlob(words ...uint32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, append([]uint32{spirvMagic}, words...))
	return buf.Bytes()
}

func TestShaderPath(t *testing.T) {
	got := ShaderPath("gen", "debug", "geometry.vert")
	want := filepath.Join("gen", "debug", "shaders", "geometry.vert")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestBytesToBytecode(t *testing.T) {
	code, err := bytesToBytecode(spirvBlob(0x00010000, 0xdeadbeef))
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{spirvMagic, 0x00010000, 0xdeadbeef}
	if len(code) != len(want) {
		t.Fatalf("got %d words, want %d", len(code), len(want))
	}
	for i := range want {
		if code[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, code[i], want[i])
		}
	}
}

func TestBytesToBytecodeRejectsMalformed(t *testing.T) {
	if _, err := bytesToBytecode([]byte{1, 2, 3}); err == nil {
		t.Error("accepted a partial word")
	}
	if _, err := bytesToBytecode(nil); err == nil {
		t.Error("accepted an empty blob")
	}
	if _, err := bytesToBytecode([]byte{0, 0, 0, 0}); err == nil {
		t.Error("accepted a blob without the magic number")
	}
}

func TestReadShaderResolvesExtensions(t *testing.T) {
	dir := t.TempDir()
	blob := spirvBlob(1, 2, 3)

	if err := os.WriteFile(filepath.Join(dir, "plain.vert.spv"), blob, 0o644); err != nil {
		t.Fatal(err)
	}

	compressed := &bytes.Buffer{}
	writer := lz4.NewWriter(compressed)
	if _, err := writer.Write(blob); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "packed.frag.spv.lz4"), compressed.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"plain.vert", "packed.frag"} {
		code, err := ReadShader(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(code) != 4 || code[3] != 3 {
			t.Errorf("%s decoded to %v", name, code)
		}
	}
}

func TestReadShaderMissing(t *testing.T) {
	_, err := ReadShader(filepath.Join(t.TempDir(), "missing.vert"))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("got %v, want ErrIO", err)
	}
}
