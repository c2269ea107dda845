package mapper

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/readuntil/config"
	"github.com/grailbio/readuntil/reads"
	"github.com/pkg/errors"
)

var referenceExtensions = []string{".fa", ".fasta", ".fa.gz", ".fasta.gz"}

// mappy is the in-process seed mapper.  The serial flavor aligns results on
// one goroutine; the parallel flavor fans a batch out over a worker pool.
// Both share the same index, so their alignments are identical.
type mappy struct {
	path            string
	k               int
	minSeeds        int
	maxSeedsPerKmer int
	threads         int // 0 means serial

	idx *refIndex
}

func newMappyCommon(opts config.Options) (*mappy, error) {
	path, err := opts.String("reference", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("aligner plugin: option reference is required")
	}
	m := &mappy{path: path}
	if m.k, err = opts.Int("k", 15); err != nil {
		return nil, err
	}
	if m.k < 4 || m.k > 32 {
		return nil, fmt.Errorf("aligner plugin: k must be in [4, 32], got %d", m.k)
	}
	if m.minSeeds, err = opts.Int("min_seeds", 3); err != nil {
		return nil, err
	}
	if m.maxSeedsPerKmer, err = opts.Int("max_seeds_per_kmer", 64); err != nil {
		return nil, err
	}
	return m, nil
}

func newMappy(opts config.Options) (Aligner, error) {
	return newMappyCommon(opts)
}

func newMappyRS(opts config.Options) (Aligner, error) {
	m, err := newMappyCommon(opts)
	if err != nil {
		return nil, err
	}
	if m.threads, err = opts.Int("threads", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if m.threads < 1 {
		return nil, fmt.Errorf("aligner plugin: threads must be positive, got %d", m.threads)
	}
	return m, nil
}

// Validate checks the reference path and extension, then loads the index so
// startup fails fast on a bad reference.
func (m *mappy) Validate(ctx context.Context) error {
	ok := false
	for _, ext := range referenceExtensions {
		if strings.HasSuffix(m.path, ext) {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("reference %s: unsupported extension (need one of %s)", m.path, strings.Join(referenceExtensions, ", "))
	}
	if !strings.Contains(m.path, "://") {
		if _, err := os.Stat(m.path); err != nil {
			return errors.Wrapf(err, "reference index path does not exist: %s", m.path)
		}
	}
	if m.idx == nil {
		idx, err := buildIndex(m.path, m.k, m.minSeeds, m.maxSeedsPerKmer)
		if err != nil {
			return err
		}
		m.idx = idx
	}
	return nil
}

func (m *mappy) Initialized() bool { return m.idx != nil }

func (m *mappy) Describe() string {
	mode := "serial"
	if m.threads > 0 {
		mode = fmt.Sprintf("%d-thread", m.threads)
	}
	if m.idx == nil {
		return fmt.Sprintf("%s seed mapper on %s (not initialized)", mode, m.path)
	}
	return fmt.Sprintf("%s seed mapper on %s (k=%d, contigs %s)", mode, m.path, m.k, m.idx.describeRef())
}

func (m *mappy) Close(context.Context) error {
	m.idx = nil
	return nil
}

func (m *mappy) Align(ctx context.Context, in <-chan reads.Result) <-chan reads.Result {
	out := make(chan reads.Result, 64)
	workers := m.threads
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range in {
				if m.idx != nil && r.Seq != "" {
					r.Alignments = m.idx.align(r.Seq)
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Header exposes the reference contig catalogue once initialized.
func (m *mappy) Header() *sam.Header {
	if m.idx == nil {
		return nil
	}
	return m.idx.header
}
