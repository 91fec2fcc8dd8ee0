package eventlog

import (
	"github.com/cockroachdb/pebble"
)

// ReadOptions controls a stored-event scan.
type ReadOptions struct {
	// AfterSeq starts the scan at AfterSeq+1. Zero reads from the beginning.
	AfterSeq uint64
	// Limit caps the number of returned items. Zero means no cap.
	Limit int
	// Reverse scans descending from the newest entry. AfterSeq is ignored.
	Reverse bool
}

// Item is one decoded event with its assigned sequence.
type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// Read returns stored events in sequence order. Records that fail checksum
// verification are counted in skipped and omitted from the result; store
// errors are returned so callers can surface them rather than treat them as
// end-of-log.
func (l *Log) Read(opts ReadOptions) (items []Item, skipped int, err error) {
	low := KeyLogEntry(l.runID, 0)
	hi := KeyLogEntry(l.runID, ^uint64(0))

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	items = make([]Item, 0, 16)

	advance := iter.Next
	var ok bool
	if opts.Reverse {
		advance = iter.Prev
		ok = iter.Last()
	} else if opts.AfterSeq == 0 {
		ok = iter.First()
	} else {
		ok = iter.SeekGE(KeyLogEntry(l.runID, opts.AfterSeq+1))
	}

	for ok && (opts.Limit == 0 || len(items) < opts.Limit) {
		seq := SeqFromEntryKey(iter.Key())
		if dec, valid := DecodeRecord(iter.Value()); valid {
			items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
		} else {
			skipped++
		}
		ok = advance()
	}
	if err := iter.Error(); err != nil {
		return nil, skipped, err
	}
	return items, skipped, nil
}

// Last returns the newest stored event, or ok=false for an empty log.
func (l *Log) Last() (Item, bool, error) {
	items, _, err := l.Read(ReadOptions{Reverse: true, Limit: 1})
	if err != nil {
		return Item{}, false, err
	}
	if len(items) == 0 {
		return Item{}, false, nil
	}
	return items[0], true, nil
}
