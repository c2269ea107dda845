package mapper

import (
	"io"
	"math/bits"
	"sort"
	"strings"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio/encoding/fasta"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/readuntil/reads"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Kmer packs up to 32 bases at 2 bits each (A=0 C=1 G=2 T=3), the most
// recent base in the low bits.
type Kmer uint64

// baseCode maps an ASCII base to its 2-bit code; 0xff marks a non-ACGT
// byte.
var baseCode [256]uint8

func init() {
	for i := range baseCode {
		baseCode[i] = 0xff
	}
	for code, bases := range []string{"Aa", "Cc", "Gg", "Tt"} {
		for i := 0; i < len(bases); i++ {
			baseCode[bases[i]] = uint8(code)
		}
	}
}

// revComp reverse-complements a k-base kmer.  Complementing flips every
// 2-bit code (A<->T, C<->G), so it is a bitwise NOT; reversing the base
// order is a 2-bit-group reversal of the whole word, shifted back down.
func revComp(km Kmer, k int) Kmer {
	km = ^km
	km = (km&0x3333333333333333)<<2 | (km>>2)&0x3333333333333333
	km = (km&0x0f0f0f0f0f0f0f0f)<<4 | (km>>4)&0x0f0f0f0f0f0f0f0f
	km = Kmer(bits.ReverseBytes64(uint64(km)))
	return km >> (64 - 2*uint(k))
}

// eachKmer calls fn with every k-long window of seq that consists entirely
// of ACGT bases (either case) and the window's packed encoding.  The rolling
// state restarts after any other byte, so windows spanning an ambiguous base
// are skipped.
func eachKmer(seq string, k int, fn func(pos int, km Kmer)) {
	mask := Kmer(1)<<(2*uint(k)) - 1
	var km Kmer
	valid := 0
	for i := 0; i < len(seq); i++ {
		c := baseCode[seq[i]]
		if c == 0xff {
			km = 0
			valid = 0
			continue
		}
		km = (km<<2 | Kmer(c)) & mask
		if valid++; valid >= k {
			fn(i+1-k, km)
		}
	}
}

// The seed map is physically sharded by the low bits of farmhash(kmer).
// Sharding bounds lock contention during the parallel per-contig build; at
// query time shard selection is a hash and a mask.
const nSeedShard = 256

type seedPos struct {
	ref int32
	pos int32
}

type seedShard struct {
	mu    sync.Mutex
	seeds map[Kmer][]seedPos
}

// refIndex is an in-process seed index over a reference FASTA.  Forward
// kmers of every contig are indexed; queries look up both the read kmer
// (forward-strand hit) and its reverse complement (reverse-strand hit) and
// vote per (contig, strand, diagonal).
type refIndex struct {
	k               int
	minSeeds        int
	maxSeedsPerKmer int
	names           []string
	lengths         []int64
	header          *sam.Header
	shards          [nSeedShard]seedShard
}

func hashKmer(k Kmer) uint64 {
	return farm.Hash64WithSeed(nil, uint64(k))
}

func (idx *refIndex) shardFor(k Kmer) *seedShard {
	return &idx.shards[hashKmer(k)&(nSeedShard-1)]
}

// buildIndex reads the reference FASTA (optionally gzipped) and indexes
// every forward kmer of every contig.
func buildIndex(path string, k, minSeeds, maxSeedsPerKmer int) (*refIndex, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open reference %s", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	reader := io.Reader(in.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip reference %s", path)
		}
		reader = gz
	}
	fa, err := fasta.New(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "parse reference %s", path)
	}

	idx := &refIndex{k: k, minSeeds: minSeeds, maxSeedsPerKmer: maxSeedsPerKmer}
	idx.names = fa.SeqNames()
	refs := make([]*sam.Reference, len(idx.names))
	for i, name := range idx.names {
		n, err := fa.Len(name)
		if err != nil {
			return nil, err
		}
		idx.lengths = append(idx.lengths, int64(n))
		if refs[i], err = sam.NewReference(name, "", "", int(n), nil, nil); err != nil {
			return nil, errors.Wrapf(err, "reference contig %s", name)
		}
	}
	if idx.header, err = sam.NewHeader(nil, refs); err != nil {
		return nil, err
	}
	for i := range idx.shards {
		idx.shards[i].seeds = make(map[Kmer][]seedPos)
	}

	err = traverse.Each(len(idx.names), func(ri int) error {
		seq, err := fa.Get(idx.names[ri], 0, uint64(idx.lengths[ri]))
		if err != nil {
			return err
		}
		eachKmer(seq, k, func(pos int, km Kmer) {
			shard := idx.shardFor(km)
			shard.mu.Lock()
			shard.seeds[km] = append(shard.seeds[km], seedPos{ref: int32(ri), pos: int32(pos)})
			shard.mu.Unlock()
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Kmers occurring all over the reference carry no placement signal and
	// bloat the vote step; drop them.
	dropped := 0
	for i := range idx.shards {
		for km, seeds := range idx.shards[i].seeds {
			if len(seeds) > maxSeedsPerKmer {
				delete(idx.shards[i].seeds, km)
				dropped++
			}
		}
	}
	log.Debug.Printf("mapper: indexed %d contig(s) from %s (k=%d, %d overabundant kmer(s) dropped)",
		len(idx.names), path, k, dropped)
	return idx, nil
}

func (idx *refIndex) lookup(k Kmer) []seedPos {
	shard := idx.shardFor(k)
	return shard.seeds[k]
}

// Diagonal bins are 64bp wide, tolerating small indels within a chain.
const diagShift = 6

type binKey struct {
	ref    int32
	strand int8
	diag   int32
}

type bin struct {
	votes  int
	minPos int32
	maxPos int32
}

// align maps a basecalled sequence by seed voting: each indexed kmer hit
// votes for a (contig, strand, diagonal) bin, and bins with at least
// minSeeds votes become alignments, best first.  One alignment is reported
// per (contig, strand).
func (idx *refIndex) align(seq string) []reads.Alignment {
	if len(seq) < idx.k {
		return nil
	}
	bins := make(map[binKey]*bin)
	vote := func(ref int32, strand int8, diag, pos int32) {
		key := binKey{ref: ref, strand: strand, diag: diag >> diagShift}
		b := bins[key]
		if b == nil {
			b = &bin{minPos: pos, maxPos: pos}
			bins[key] = b
		}
		b.votes++
		if pos < b.minPos {
			b.minPos = pos
		}
		if pos > b.maxPos {
			b.maxPos = pos
		}
	}
	eachKmer(seq, idx.k, func(qpos int, km Kmer) {
		// A forward hit matches the read kmer as indexed; a reverse-strand
		// hit matches its reverse complement.
		for _, sp := range idx.lookup(km) {
			vote(sp.ref, 1, sp.pos-int32(qpos), sp.pos)
		}
		for _, sp := range idx.lookup(revComp(km, idx.k)) {
			vote(sp.ref, -1, sp.pos+int32(qpos), sp.pos)
		}
	})

	// Best bin per (contig, strand).
	type hit struct {
		key binKey
		b   *bin
	}
	best := make(map[binKey]hit) // keyed with diag zeroed
	for key, b := range bins {
		if b.votes < idx.minSeeds {
			continue
		}
		groupKey := binKey{ref: key.ref, strand: key.strand}
		if cur, ok := best[groupKey]; !ok || b.votes > cur.b.votes {
			best[groupKey] = hit{key: key, b: b}
		}
	}
	if len(best) == 0 {
		return nil
	}
	hits := make([]hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].b.votes != hits[j].b.votes {
			return hits[i].b.votes > hits[j].b.votes
		}
		if hits[i].key.ref != hits[j].key.ref {
			return hits[i].key.ref < hits[j].key.ref
		}
		return hits[i].key.strand > hits[j].key.strand
	})
	alns := make([]reads.Alignment, 0, len(hits))
	for _, h := range hits {
		mapq := 2 * h.b.votes
		if mapq > 60 {
			mapq = 60
		}
		alns = append(alns, reads.Alignment{
			Contig: idx.names[h.key.ref],
			Strand: h.key.strand,
			RStart: int64(h.b.minPos),
			REnd:   int64(h.b.maxPos) + int64(idx.k),
			MapQ:   mapq,
		})
	}
	return alns
}

// describeRef summarizes the indexed reference for logs.
func (idx *refIndex) describeRef() string {
	if len(idx.names) <= 3 {
		return strings.Join(idx.names, ",")
	}
	return strings.Join(idx.names[:3], ",") + ",..."
}
