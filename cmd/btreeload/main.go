// Command btreeload builds a disk-backed B+ tree index from a file of
// whitespace-separated integer keys and reports basic stats about the
// result. Useful for exercising the storage kernel end to end without a
// surrounding query engine.
package main

import (
	"bytes"
	"fmt"
	"os"

	"bptreekv/bptree"
	"bptreekv/bufferpool"
	"bptreekv/diskmgr"

	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: btreeload <keys-file> [config.toml]")
		os.Exit(1)
	}
	keysPath := os.Args[1]

	var cfg bptree.Config
	var err error
	if len(os.Args) >= 3 {
		cfg, err = bptree.LoadConfig(os.Args[2])
	} else {
		cfg, err = bptree.LoadConfig("btreeload.toml")
	}
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	disk, err := diskmgr.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open disk manager: %v", err)
	}
	defer disk.Close()

	pool := bufferpool.NewManager(cfg.PoolSize, disk, log)

	idx, err := bptree.OpenIndex("default", pool, bytes.Compare, cfg.LeafMaxSize, cfg.InternalMaxSize, log)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}

	keysFile, err := os.Open(keysPath)
	if err != nil {
		log.Fatalf("open keys file: %v", err)
	}
	defer keysFile.Close()

	if err := idx.InsertFromFile(keysFile); err != nil {
		log.Fatalf("insert from file: %v", err)
	}

	if err := pool.FlushAllPages(); err != nil {
		log.Fatalf("flush all pages: %v", err)
	}

	it, err := idx.Begin()
	if err != nil {
		log.Fatalf("begin iterator: %v", err)
	}
	defer it.Close()

	count := 0
	for !it.IsEnd() {
		count++
		if err := it.Next(); err != nil {
			log.Fatalf("iterate: %v", err)
		}
	}
	log.WithField("count", count).Info("btreeload: done")
}

var log = logrus.New()
