package photo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/domain"
)

// PhotoDir is the directory under the root that holds holder photos
const PhotoDir = "cardholder_photos"

const maxNameAttempts = 10

// ErrOutsideRoot is returned when a requested path escapes the photo root
var ErrOutsideRoot = errors.New("photo: path outside storage root")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Store persists holder photos under root as
// cardholder_photos/{tenant}/{card}_{unix_millis}.{ext}. Files are created
// exclusively and never overwritten.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// Root returns the storage root
func (s *Store) Root() string {
	return s.root
}

// SavePhoto decodes a data URI and writes it as a new file
func (s *Store) SavePhoto(tenantID, cardNumber, dataURI string) (*domain.StoredPhoto, error) {
	mimeType, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return nil, err
	}

	tenantDir := sanitize(tenantID)
	card := sanitize(cardNumber)
	if tenantDir == "" || card == "" {
		return nil, fmt.Errorf("photo: tenant and card number are required")
	}

	dir := filepath.Join(s.root, PhotoDir, tenantDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("photo: create directory: %w", err)
	}

	now := s.now().UTC()
	ext := ExtensionFor(mimeType)
	base := card + "_" + strconv.FormatInt(now.UnixMilli(), 10)

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			name += "-" + strconv.Itoa(attempt)
		}
		name += "." + ext

		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("photo: create file: %w", err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			return nil, fmt.Errorf("photo: write file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("photo: close file: %w", err)
		}

		sum := blake2b.Sum256(data)
		return &domain.StoredPhoto{
			Path:      filepath.ToSlash(filepath.Join(PhotoDir, tenantDir, name)),
			MIMEType:  mimeType,
			Size:      int64(len(data)),
			Digest:    hex.EncodeToString(sum[:]),
			CreatedAt: now,
		}, nil
	}

	return nil, fmt.Errorf("photo: no free file name for %s after %d attempts", base, maxNameAttempts)
}

// Open reads a stored photo by its relative path. tenantID must own the path.
func (s *Store) Open(tenantID, relPath string) ([]byte, string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(relPath, "/")))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return nil, "", ErrOutsideRoot
	}

	tenantPrefix := filepath.Join(PhotoDir, sanitize(tenantID)) + string(filepath.Separator)
	if !strings.HasPrefix(clean, tenantPrefix) {
		return nil, "", ErrOutsideRoot
	}

	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, "", err
	}
	return data, MIMEFromURL(clean), nil
}

func sanitize(s string) string {
	return strings.Trim(unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
}
