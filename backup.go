package segmentkv

// backup.go implements online backups and restore.
//
// A backup is a directory of compressed segment files plus BACKUP.json,
// which lists every file with its raw size and checksum. Disk segments are
// copied as they are; memory and log segments are first written out as
// disk segments, so a restored database opens without replaying any log.
// The backup reads from a snapshot, which keeps every copied segment's
// files in place until it is done.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/aalhour/segmentkv/internal/checksum"
	"github.com/aalhour/segmentkv/internal/compression"
	"github.com/aalhour/segmentkv/internal/logging"
	"github.com/aalhour/segmentkv/internal/mempool"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/vfs"
)

// BackupMetaFileName is the name of the metadata file of a backup.
const BackupMetaFileName = "BACKUP.json"

const (
	backupFormatVersion = 1
	backupStagingDir    = "staging"
)

// BackupOptions configures Backup.
type BackupOptions struct {
	// Compression is the codec applied to every file.
	Compression CompressionType
}

// DefaultBackupOptions returns zstd-compressed backups.
func DefaultBackupOptions() *BackupOptions {
	return &BackupOptions{Compression: CompressionZstd}
}

// BackupFile describes one file of a backup.
type BackupFile struct {
	// Name is the file name in the database directory.
	Name string `json:"name"`
	// Stored is the file name in the backup directory.
	Stored string `json:"stored"`
	// Size is the uncompressed size.
	Size int64 `json:"size"`
	// Checksum is the xxh3 checksum of the uncompressed bytes.
	Checksum string `json:"checksum"`
}

// BackupInfo contains information about a backup.
type BackupInfo struct {
	Timestamp   time.Time
	Compression CompressionType
	Files       []BackupFile

	// Size is the uncompressed size of all files.
	Size int64
}

// backupMeta is the on-disk form of BACKUP.json.
type backupMeta struct {
	Version     int          `json:"version"`
	Timestamp   int64        `json:"timestamp"`
	Compression string       `json:"compression"`
	Files       []BackupFile `json:"files"`
}

// Backup writes a consistent copy of the database to dir, which must not
// exist or be empty. A nil opts uses DefaultBackupOptions.
func (db *Database) Backup(dir string, opts *BackupOptions) (*BackupInfo, error) {
	if opts == nil {
		opts = DefaultBackupOptions()
	}
	codec := opts.Compression
	if _, err := compression.ParseType(codec.String()); err != nil {
		return nil, err
	}

	snap, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	if err := prepareEmptyDir(db.fs, dir); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}
	db.logger.Infof("%sbacking up %d segments to %s (%s)", logging.NSBackup, len(snap.segments), dir, codec)

	info := &BackupInfo{Timestamp: time.Now(), Compression: codec}
	staging := filepath.Join(dir, backupStagingDir)
	defer func() { _ = db.fs.RemoveAll(staging) }()

	for _, s := range snap.segments {
		src := db.path
		if _, ok := s.(*segment.Disk); !ok {
			if err := db.fs.MkdirAll(staging, 0o755); err != nil {
				return nil, fmt.Errorf("backup: %w", err)
			}
			d, _, err := segment.WriteDisk(db.fs, staging, s.LowerID(), s.UpperID(), s.Lookup(nil, nil), segment.DiskOptions{
				Compare: db.cmp,
			})
			if err != nil {
				return nil, fmt.Errorf("backup: write %s: %w", segment.Describe(s), err)
			}
			_ = d.Close()
			src = staging
		}
		for _, name := range []string{segment.KeysName(s.LowerID(), s.UpperID()), segment.DataName(s.LowerID(), s.UpperID())} {
			f, err := copyCompressed(db.fs, filepath.Join(src, name), dir, name, codec)
			if err != nil {
				return nil, fmt.Errorf("backup: copy %s: %w", name, err)
			}
			info.Files = append(info.Files, f)
			info.Size += f.Size
		}
	}
	if err := db.fs.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	meta := backupMeta{
		Version:     backupFormatVersion,
		Timestamp:   info.Timestamp.Unix(),
		Compression: codec.String(),
		Files:       info.Files,
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: marshal metadata: %w", err)
	}
	if err := writeFileSync(db.fs, filepath.Join(dir, BackupMetaFileName), data); err != nil {
		return nil, fmt.Errorf("backup: write metadata: %w", err)
	}
	if err := db.fs.SyncDir(dir); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	db.logger.Infof("%scompleted backup in %s: %d files, %d bytes", logging.NSBackup, dir, len(info.Files), info.Size)
	return info, nil
}

// RestoreBackup recreates the database in dbPath from the backup in
// backupDir. dbPath must not exist or be empty. A file whose checksum does
// not match fails the restore with ErrCorruption.
func RestoreBackup(backupDir, dbPath string) error {
	fsys := vfs.Default()
	meta, err := readBackupMeta(fsys, backupDir)
	if err != nil {
		return err
	}
	codec, err := compression.ParseType(meta.Compression)
	if err != nil {
		return fmt.Errorf("%w: backup metadata: %w", ErrCorruption, err)
	}
	if err := prepareEmptyDir(fsys, dbPath); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	for _, f := range meta.Files {
		if fn, ok := segment.ParseFileName(f.Name); !ok || fn.Temp || filepath.Base(f.Stored) != f.Stored {
			return fmt.Errorf("%w: backup lists unexpected file %q", ErrCorruption, f.Name)
		}
		if err := restoreFile(fsys, backupDir, dbPath, f, codec); err != nil {
			return err
		}
	}
	return fsys.SyncDir(dbPath)
}

// restoreFile decompresses one file to <name>.tmp and renames it once the
// checksum matches. An interrupted restore leaves only *.tmp files, which
// Open removes.
func restoreFile(fsys vfs.FS, backupDir, dbPath string, f BackupFile, codec compression.Type) (err error) {
	in, err := fsys.Open(filepath.Join(backupDir, f.Stored))
	if err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	defer in.Close()

	r, err := compression.NewReader(codec, in)
	if err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	defer r.Close()

	final := filepath.Join(dbPath, f.Name)
	tmp := final + segment.TempSuffix
	out, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = fsys.Remove(tmp)
		}
	}()

	h := checksum.NewHasher()
	n, err := copyPooled(io.MultiWriter(out, h), r)
	if err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	if n != f.Size || checksum.Format(h.Sum64()) != f.Checksum {
		return fmt.Errorf("%w: %s: got %d bytes checksum %s, want %d bytes checksum %s",
			ErrCorruption, f.Name, n, checksum.Format(h.Sum64()), f.Size, f.Checksum)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	if err = fsys.Rename(tmp, final); err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	return nil
}

// copyCompressed copies src into dir/<name><ext> through codec.
func copyCompressed(fsys vfs.FS, src, dir, name string, codec compression.Type) (f BackupFile, err error) {
	in, err := fsys.Open(src)
	if err != nil {
		return f, err
	}
	defer in.Close()

	f = BackupFile{Name: name, Stored: name + codec.Extension()}
	out, err := fsys.Create(filepath.Join(dir, f.Stored))
	if err != nil {
		return f, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := compression.NewWriter(codec, out)
	if err != nil {
		return f, err
	}
	h := checksum.NewHasher()
	f.Size, err = copyPooled(io.MultiWriter(w, h), in)
	if err != nil {
		_ = w.Close()
		return f, err
	}
	if err = w.Close(); err != nil {
		return f, err
	}
	f.Checksum = checksum.Format(h.Sum64())
	return f, out.Sync()
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := mempool.GlobalPool.Get(mempool.CopyBufferSize)
	defer mempool.GlobalPool.Put(buf)
	return io.CopyBuffer(dst, src, buf[:mempool.CopyBufferSize])
}

func readBackupMeta(fsys vfs.FS, dir string) (*backupMeta, error) {
	f, err := fsys.Open(filepath.Join(dir, BackupMetaFileName))
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	defer f.Close()

	var meta backupMeta
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: backup metadata: %w", ErrCorruption, err)
	}
	if meta.Version != backupFormatVersion {
		return nil, fmt.Errorf("%w: unsupported backup version %d", ErrCorruption, meta.Version)
	}
	return &meta, nil
}

// prepareEmptyDir creates dir or checks that it is empty.
func prepareEmptyDir(fsys vfs.FS, dir string) error {
	names, err := fsys.ListDir(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fsys.MkdirAll(dir, 0o755)
	case err != nil:
		return err
	case len(names) > 0:
		return fmt.Errorf("directory %s is not empty", dir)
	}
	return nil
}

func writeFileSync(fsys vfs.FS, path string, data []byte) error {
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
