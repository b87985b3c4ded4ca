// Command bfingest is a small demo CLI wiring the column store and
// ingestion core together: it reads a plain-text corpus, builds a term
// table assigning one explicit row per distinct word, ingests every line
// as a document, and prints each document's posting count followed by
// the number of shards.
//
// Usage: bfingest <corpus.txt>
//
// Real chunk-file parsing, query planning and statistics dumps live
// elsewhere; this only exercises the add/route/commit path end to end.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/bitfunnel/bfcore/doctable"
	"github.com/bitfunnel/bfcore/ingest"
	"github.com/bitfunnel/bfcore/termtable"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var maxGramFlag = flag.Int("max-gram", 2, "maximum n-gram size to emit per stream")

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: bfingest <corpus.txt>")
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}

	lines := readLines(args[0])
	tt := buildTermTable(lines)

	ing, err := ingest.New([]*termtable.TermTable{tt}, ingest.IngestorOpts{
		ShardBounds: []int{1 << 30},
		Schema:      doctable.Schema{},
		MaxRank:     0,
	})
	if err != nil {
		log.Panicf("bfingest: building ingestor: %v", err)
	}
	defer ing.Shutdown()

	maxGram := bitfunnelpb.GramSize(*maxGramFlag)
	for i, words := range lines {
		docID := bitfunnelpb.DocId(i + 1)
		doc := ingest.NewDocument(maxGram)
		doc.OpenStream(0)
		for _, w := range words {
			doc.AddTerm([]byte(w))
		}
		doc.CloseStream()

		if err := ing.Add(docID, doc); err != nil {
			log.Panicf("bfingest: ingesting doc %d: %v", docID, err)
		}
		fmt.Printf("doc %d: %d postings\n", docID, doc.PostingCount())
	}
	fmt.Printf("ingested %d documents across %d shard(s)\n", len(lines), ing.GetShardCount())
}

func readLines(path string) (lines [][]string) {
	ctx := vcontext.Background()
	f, err := file.Open(ctx, path)
	if err != nil {
		log.Panicf("bfingest: open %v: %v", path, err)
	}
	defer file.CloseAndReport(ctx, f, &err)

	scanner := bufio.NewScanner(f.Reader(ctx))
	for scanner.Scan() {
		words := strings.Fields(scanner.Text())
		if len(words) == 0 {
			continue
		}
		lines = append(lines, words)
	}
	if err := scanner.Err(); err != nil {
		log.Panicf("bfingest: reading %v: %v", path, err)
	}
	return lines
}

// buildTermTable assigns one explicit rank-0 row to every distinct word
// across the corpus, plus a small adhoc pool for anything a future
// corpus line might mention that this build never saw. Row-id
// assignment is normally a separate statistics-driven pass; this CLI
// plays that role with the simplest possible policy (sequential index,
// rank 0).
func buildTermTable(lines [][]string) *termtable.TermTable {
	tt := termtable.New()
	nextIndex := bitfunnelpb.RowIndex(3) // system rows occupy 0,1,2

	seen := map[uint64]bool{}
	explicitCount := bitfunnelpb.RowIndex(0)
	for _, words := range lines {
		for _, w := range words {
			hash := bitfunnelpb.HashUnigram([]byte(w))
			if seen[hash] {
				continue
			}
			seen[hash] = true
			tt.OpenTerm()
			tt.AddRowId(bitfunnelpb.NewRowId(0, nextIndex, false))
			tt.CloseTerm(hash)
			nextIndex++
			explicitCount++
		}
	}

	tt.OpenAdhocTerm(0)
	tt.CloseAdhocTerm()
	const adhocPoolSize = 64
	const systemRowCount = 3
	tt.SetRowCounts(0, explicitCount+systemRowCount, adhocPoolSize)
	tt.Seal()
	return tt
}
