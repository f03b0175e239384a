package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const snapshotVersion = 1

// SnapshotHeader is the first line of an exported state snapshot.
type SnapshotHeader struct {
	Version   int    `json:"version"`
	ChainID   string `json:"chain_id"`
	Height    int64  `json:"height"`
	StateRoot string `json:"state_root"`
	Entries   int    `json:"entries"`
}

// Export writes every committed state entry of db to w as a zstd stream:
// a JSON header line followed by length-prefixed key/value pairs. Entries is
// filled in from the data.
func Export(w io.Writer, db DB, header SnapshotHeader) (SnapshotHeader, error) {
	var body bytes.Buffer
	var lenBuf [4]byte
	header.Version = snapshotVersion
	header.Entries = 0
	for _, prefix := range statePrefixes {
		it := db.NewIterator([]byte(prefix))
		for it.Next() {
			for _, b := range [][]byte{it.Key(), it.Value()} {
				binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
				body.Write(lenBuf[:])
				body.Write(b)
			}
			header.Entries++
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return header, fmt.Errorf("iterate %q: %w", prefix, err)
		}
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return header, err
	}
	hb, err := json.Marshal(header)
	if err != nil {
		enc.Close()
		return header, err
	}
	hb = append(hb, '\n')
	if _, err := enc.Write(hb); err != nil {
		enc.Close()
		return header, err
	}
	if _, err := body.WriteTo(enc); err != nil {
		enc.Close()
		return header, err
	}
	return header, enc.Close()
}

// Import reads a snapshot written by Export into db with a single batch.
func Import(r io.Reader, db DB) (SnapshotHeader, error) {
	var header SnapshotHeader
	dec, err := zstd.NewReader(r)
	if err != nil {
		return header, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return header, fmt.Errorf("read snapshot header: %w", err)
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return header, fmt.Errorf("decode snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return header, fmt.Errorf("unsupported snapshot version %d", header.Version)
	}

	batch := db.NewBatch()
	for i := 0; i < header.Entries; i++ {
		key, err := readChunk(br)
		if err != nil {
			return header, fmt.Errorf("entry %d key: %w", i, err)
		}
		val, err := readChunk(br)
		if err != nil {
			return header, fmt.Errorf("entry %d value: %w", i, err)
		}
		batch.Set(key, val)
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		return header, errors.New("trailing data after last snapshot entry")
	}
	return header, batch.Write()
}

func readChunk(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	b := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
