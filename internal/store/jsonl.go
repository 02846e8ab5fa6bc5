package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tgdump-go/internal/archive"
)

// maxLineSize bounds a single archived record. Records with long reply
// threads can be large, so this is far above bufio's default.
const maxLineSize = 64 << 20

const mediaDirName = "audio_files"

// JSONLStore keeps archives as JSON Lines files in a directory:
//
//	<root>/
//	  entity_<id>.json            (conversation description)
//	  entity_<id>_messages.jsonl  (one message per line, ascending id)
//	  audio_files/
//	    <peer>_msg_<id>.oga       (downloaded voice messages)
type JSONLStore struct {
	root     string
	mediaDir string
}

// NewJSONLStore creates a store rooted at root, creating the directory if needed.
func NewJSONLStore(root string) (*JSONLStore, error) {
	if root == "" {
		return nil, fmt.Errorf("archive directory is not set")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &JSONLStore{root: root, mediaDir: filepath.Join(root, mediaDirName)}, nil
}

// ArchivePath returns the path of the messages file for conv.
func (s *JSONLStore) ArchivePath(conv *archive.Conversation) string {
	return filepath.Join(s.root, fmt.Sprintf("entity_%d_messages.jsonl", conv.ID))
}

// InfoPath returns the path of the conversation description file.
func (s *JSONLStore) InfoPath(conv *archive.Conversation) string {
	return filepath.Join(s.root, fmt.Sprintf("entity_%d.json", conv.ID))
}

// Load reads the archive of conv. A missing file is an empty snapshot.
func (s *JSONLStore) Load(conv *archive.Conversation) (archive.Snapshot, error) {
	path := s.ArchivePath(conv)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return archive.Snapshot{}, nil
		}
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	return decodeSnapshot(f, path)
}

// Save replaces the archive of conv atomically (temp file + rename).
func (s *JSONLStore) Save(conv *archive.Conversation, snapshot archive.Snapshot) error {
	return writeFileAtomic(s.ArchivePath(conv), func(w io.Writer) error {
		return encodeSnapshot(w, snapshot)
	})
}

// SaveConversation writes the conversation description as indented JSON.
func (s *JSONLStore) SaveConversation(conv *archive.Conversation) error {
	var data []byte
	var err error
	if len(conv.Info) > 0 {
		var buf bytes.Buffer
		err = json.Indent(&buf, conv.Info, "", "  ")
		data = buf.Bytes()
	} else {
		data, err = json.MarshalIndent(conv, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding conversation info: %w", err)
	}

	return writeFileAtomic(s.InfoPath(conv), func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// Export copies the archive file of conv to w.
func (s *JSONLStore) Export(conv *archive.Conversation, w io.Writer) error {
	f, err := os.Open(s.ArchivePath(conv))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}

// Import validates the archive read from r and replaces the archive of conv
// with its canonical encoding. Nothing is written if validation fails.
func (s *JSONLStore) Import(conv *archive.Conversation, r io.Reader) error {
	snapshot, err := decodeSnapshot(r, "import")
	if err != nil {
		return err
	}
	return s.Save(conv, snapshot)
}

// Exists reports whether an archive file exists for conv.
func (s *JSONLStore) Exists(conv *archive.Conversation) (bool, error) {
	return fileExists(s.ArchivePath(conv))
}

// HasMedia reports whether a media file has already been downloaded.
func (s *JSONLStore) HasMedia(conv *archive.Conversation, name string) (bool, error) {
	return fileExists(filepath.Join(s.mediaDir, name))
}

// WriteMedia stores the output of write under audio_files/name.
func (s *JSONLStore) WriteMedia(conv *archive.Conversation, name string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(s.mediaDir, 0755); err != nil {
		return fmt.Errorf("creating media directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.mediaDir, name), write)
}

// decodeSnapshot parses JSON Lines into a snapshot. Blank lines are ignored;
// undecodable records, records without an id and duplicate ids are corruption.
func decodeSnapshot(r io.Reader, path string) (archive.Snapshot, error) {
	snapshot := archive.Snapshot{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		m := &archive.Message{}
		if err := json.Unmarshal(raw, m); err != nil {
			reason := err.Error()
			if errors.Is(err, archive.ErrMissingID) {
				reason = "record has no id"
			}
			return nil, &archive.CorruptionError{Path: path, Line: line, Reason: reason}
		}
		if err := snapshot.Add(m); err != nil {
			return nil, &archive.CorruptionError{Path: path, Line: line, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return snapshot, nil
}

// encodeSnapshot writes one record per line in ascending id order.
func encodeSnapshot(w io.Writer, snapshot archive.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, m := range snapshot.Sorted() {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding message %d: %w", m.ID, err)
		}
	}
	return nil
}

// writeFileAtomic writes the output of write to destPath using a temp file in
// the same directory followed by a rename, so readers never observe a
// partially written file.
func writeFileAtomic(destPath string, write func(w io.Writer) error) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmpFile)
	if err := write(bw); err != nil {
		tmpFile.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var (
	_ archive.RecordStore = (*JSONLStore)(nil)
	_ archive.MediaStore  = (*JSONLStore)(nil)
)
