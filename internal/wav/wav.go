package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

const (
	// BitDepth is the only sample width written
	BitDepth = 16
	// Channels is the only channel count written
	Channels = 1

	pcmFormat  = 1
	maxInt16   = 32767
	partSuffix = ".part"
	writeBlock = 4096
)

// ErrEncodeFailed marks any failure to produce a committed file
var ErrEncodeFailed = errors.New("encode failed")

// Format describes the sample layout of a WAV file
type Format struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
}

// String returns e.g. "16000Hz/1ch/16bit"
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// Info is the header summary of a WAV file
type Info struct {
	Format
	Samples int64 `json:"samples"`
}

// ToPCM16 clamps s to [-1, 1] and scales it to the int16 range.
func ToPCM16(s float32) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(s * maxInt16)
}

// Encoder writes a mono 16-bit PCM file. Samples go to a temporary
// "<path>.part" file which is renamed to path only by Commit, after the
// RIFF header sizes have been patched.
type Encoder struct {
	path      string
	file      *os.File
	enc       *gowav.Encoder
	format    *audio.Format
	buf       *audio.IntBuffer
	samples   int64
	committed bool
	aborted   bool
}

// Create opens a new encoder for path at sampleRate.
func Create(path string, sampleRate int) (*Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrEncodeFailed, sampleRate)
	}

	f, err := os.Create(path + partSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrEncodeFailed, path, err)
	}

	format := &audio.Format{SampleRate: sampleRate, NumChannels: Channels}
	return &Encoder{
		path:   path,
		file:   f,
		enc:    gowav.NewEncoder(f, sampleRate, BitDepth, Channels, pcmFormat),
		format: format,
		buf: &audio.IntBuffer{
			Format:         format,
			SourceBitDepth: BitDepth,
		},
	}, nil
}

// WriteFloats encodes float samples in [-1, 1], clamping values outside it.
func (e *Encoder) WriteFloats(samples []float32) error {
	for start := 0; start < len(samples); start += writeBlock {
		end := min(start+writeBlock, len(samples))
		data := e.scratch(end - start)
		for i, s := range samples[start:end] {
			data[i] = ToPCM16(s)
		}
		if err := e.writeInts(data); err != nil {
			return err
		}
	}
	return nil
}

// WritePCM encodes already-quantized 16-bit samples.
func (e *Encoder) WritePCM(samples []int) error {
	return e.writeInts(samples)
}

func (e *Encoder) scratch(n int) []int {
	if cap(e.buf.Data) < n {
		e.buf.Data = make([]int, n)
	}
	return e.buf.Data[:n]
}

func (e *Encoder) writeInts(data []int) error {
	if e.committed || e.aborted {
		return fmt.Errorf("%w: encoder for %s is closed", ErrEncodeFailed, e.path)
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.enc.Write(&audio.IntBuffer{Format: e.format, Data: data, SourceBitDepth: BitDepth}); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrEncodeFailed, e.path, err)
	}
	e.samples += int64(len(data))
	return nil
}

// Samples returns how many samples have been written so far.
func (e *Encoder) Samples() int64 {
	return e.samples
}

// Commit finalizes the RIFF header, closes the file and moves it into
// place. It returns the size of the committed file.
func (e *Encoder) Commit() (int64, error) {
	if e.committed || e.aborted {
		return 0, fmt.Errorf("%w: encoder for %s is closed", ErrEncodeFailed, e.path)
	}

	if err := e.enc.Close(); err != nil {
		e.Abort()
		return 0, fmt.Errorf("%w: finalize %s: %w", ErrEncodeFailed, e.path, err)
	}
	if err := e.file.Sync(); err != nil {
		e.Abort()
		return 0, fmt.Errorf("%w: sync %s: %w", ErrEncodeFailed, e.path, err)
	}
	if err := e.file.Close(); err != nil {
		e.aborted = true
		os.Remove(e.path + partSuffix)
		return 0, fmt.Errorf("%w: close %s: %w", ErrEncodeFailed, e.path, err)
	}
	if err := os.Rename(e.path+partSuffix, e.path); err != nil {
		e.aborted = true
		os.Remove(e.path + partSuffix)
		return 0, fmt.Errorf("%w: commit %s: %w", ErrEncodeFailed, e.path, err)
	}
	e.committed = true

	info, err := os.Stat(e.path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrEncodeFailed, e.path, err)
	}
	return info.Size(), nil
}

// Abort closes the encoder and removes the temporary file.
func (e *Encoder) Abort() {
	if e.committed || e.aborted {
		return
	}
	e.aborted = true
	e.file.Close()
	os.Remove(e.path + partSuffix)
}

// WriteFile encodes samples as a committed mono 16-bit PCM file and
// returns its size in bytes.
func WriteFile(path string, sampleRate int, samples []float32) (int64, error) {
	e, err := Create(path, sampleRate)
	if err != nil {
		return 0, err
	}
	if err := e.WriteFloats(samples); err != nil {
		e.Abort()
		return 0, err
	}
	return e.Commit()
}

// ReadInfo reads the header of the WAV file at path.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("invalid wav file: %s", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("read header %s: %w", path, err)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	info := Info{Format: format}
	if frame := int64(format.Channels) * int64(format.BitDepth/8); frame > 0 {
		info.Samples = dec.PCMLen() / frame
	}
	return info, nil
}

// ReadFile decodes the WAV file at path into its integer samples.
func ReadFile(path string) ([]int, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, err
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("invalid wav file: %s", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, Format{}, fmt.Errorf("decode %s: %w", path, err)
	}

	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if buf == nil {
		return nil, format, nil
	}
	return buf.Data, format, nil
}

// ReadFloats decodes the WAV file at path into samples in [-1, 1].
func ReadFloats(path string) ([]float32, Format, error) {
	data, format, err := ReadFile(path)
	if err != nil {
		return nil, format, err
	}

	bitDepth := format.BitDepth
	if bitDepth <= 0 {
		bitDepth = BitDepth
	}
	scale := float32(int(1) << (bitDepth - 1))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / scale
	}
	return out, format, nil
}
