// Package library finds audio files on disk, orders them for splicing and
// writes the playlist that accompanies a spliced output.
package library

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extensions lists the file extensions treated as audio, lower case.
var Extensions = []string{".mp3", ".wav", ".ogg", ".flac", ".aac", ".m4a", ".wma"}

// CountdownNames are the file names recognised as the countdown track.
var CountdownNames = []string{"倒计时.mp3", "倒计时.MP3", "countdown.mp3"}

// Order modes.
const (
	OrderRandom     = "random"
	OrderSequential = "sequential"
)

// PlaylistHeader is the first line of every playlist file.
const PlaylistHeader = "Splice order:"

// ErrUnknownOrder is returned for an order mode other than random or sequential.
var ErrUnknownOrder = errors.New("library: unknown order mode")

// IsAudioFile reports whether name has a recognised audio extension,
// ignoring case.
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Scan returns the absolute paths of the audio files in dir, sorted. With
// recursive set, subdirectories are walked too.
func Scan(dir string, recursive bool) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsAudioFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Strings(files)
	return files, nil
}

// FindCountdown returns the first countdown track present in dir, or "" when
// there is none.
func FindCountdown(dir string) string {
	for _, name := range CountdownNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// Selection describes which files a splice uses. Files wins over Directory
// when both are set.
type Selection struct {
	Files         []string
	Directory     string
	Recursive     bool
	Countdown     string
	AutoCountdown bool
}

// Resolve returns the tracks and countdown of s, scanning Directory when no
// files were listed. The countdown never appears among the tracks.
func (s Selection) Resolve() ([]string, string, error) {
	files := s.Files
	countdown := s.Countdown
	if len(files) == 0 && s.Directory != "" {
		scanned, err := Scan(s.Directory, s.Recursive)
		if err != nil {
			return nil, "", err
		}
		files = scanned
	}
	if countdown == "" && s.AutoCountdown && s.Directory != "" {
		countdown = FindCountdown(s.Directory)
	}
	if countdown == "" {
		return files, "", nil
	}

	kept := make([]string, 0, len(files))
	for _, f := range files {
		if filepath.Clean(f) != filepath.Clean(countdown) {
			kept = append(kept, f)
		}
	}
	return kept, countdown, nil
}

// Order returns files arranged for splicing. Sequential keeps the given
// order; random shuffles a copy with rng, or a fresh source when rng is nil.
func Order(files []string, mode string, rng *rand.Rand) ([]string, error) {
	out := append([]string(nil), files...)
	switch mode {
	case OrderSequential, "":
		return out, nil
	case OrderRandom:
		shuffle := rand.Shuffle
		if rng != nil {
			shuffle = rng.Shuffle
		}
		shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrder, mode)
	}
}

// SongName returns the display name of a track: the file name without its
// extension, cut at the first space.
func SongName(fileName string) string {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[:i]
	}
	if i := strings.Index(name, " "); i >= 0 {
		name = name[:i]
	}
	return name
}

// WritePlaylist writes the song names of files to path, one per line, after
// PlaylistHeader and a blank line.
func WritePlaylist(path string, files []string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create playlist directory: %w", err)
		}
	}

	f, err := os.Create(path) // #nosec G304 - path is generated by the application
	if err != nil {
		return fmt.Errorf("create playlist: %w", err)
	}

	w := bufio.NewWriter(f)
	_, _ = fmt.Fprintf(w, "%s\n\n", PlaylistHeader)
	for _, file := range files {
		_, _ = fmt.Fprintln(w, SongName(file))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write playlist: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close playlist: %w", err)
	}
	return nil
}
