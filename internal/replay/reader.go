// Package replay implements the offline driver: it replays a previously
// archived session's trade/depth gzip logs back through AppState's queues
// as though they were arriving live, without real-time delay. Grounded on
// trading_bot/reader.py's SavedStreamReader.
package replay

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"spotflow/internal/appstate"
	"spotflow/internal/archive"
	"spotflow/pkg/types"
)

const (
	spinSleep    = 100 * time.Nanosecond
	callbackFreq = 100
)

// ProgressFn reports replay progress: the current and final simulated
// dates, and a 0-100 percent-complete figure.
type ProgressFn func(curDateStr, finalDateStr string, percent int)

// SavedStreamReader streams one pair's archived trades and depth states
// back through AppState in simulated real time, advancing server_time in
// update_resolution-sized steps and back-pressuring on each target queue.
type SavedStreamReader struct {
	state            *appstate.AppState
	pair             string
	tradesPath       string
	depthPath        string
	updateResolution int64

	progress ProgressFn

	pendingDepth *types.ReconciledDepth
	curUpdate    int64

	startTimestamp int64
	haveStart      bool
	finalTimestamp int64
	finalDateStr   string
}

// New constructs a SavedStreamReader for one pair's archive files under
// <dataStoreDir>/<timestamp>/, replaying at updateResolution (ms)
// granularity and calling progress every 100 update steps of the virtual
// clock.
func New(state *appstate.AppState, timestamp int64, pair, dataStoreDir string, updateResolution int64, progress ProgressFn) *SavedStreamReader {
	return &SavedStreamReader{
		state:            state,
		pair:             pair,
		tradesPath:       archive.Path(dataStoreDir, timestamp, pair, archive.KindTrades),
		depthPath:        archive.Path(dataStoreDir, timestamp, pair, archive.KindDepth),
		updateResolution: updateResolution,
		progress:         progress,
	}
}

// Run streams the archived trades and depth states to completion. The
// caller is responsible for setting connection_status=CONNECTED and
// connect_time=timestamp on AppState before calling Run, matching
// run_simulator.py's setup ahead of SavedStreamReader.run().
func (r *SavedStreamReader) Run() error {
	finalTimestamp, err := r.readFinalTradeTimestamp()
	if err != nil {
		return fmt.Errorf("replay: locate final trade: %w", err)
	}
	r.finalTimestamp = finalTimestamp
	r.finalDateStr = formatSimDate(finalTimestamp)

	tradesFile, err := os.Open(r.tradesPath)
	if err != nil {
		return fmt.Errorf("replay: open trades archive: %w", err)
	}
	defer tradesFile.Close()
	tradesGz, err := gzip.NewReader(tradesFile)
	if err != nil {
		return fmt.Errorf("replay: open trades gzip stream: %w", err)
	}
	defer tradesGz.Close()

	depthFile, err := os.Open(r.depthPath)
	if err != nil {
		return fmt.Errorf("replay: open depth archive: %w", err)
	}
	defer depthFile.Close()
	depthGz, err := gzip.NewReader(depthFile)
	if err != nil {
		return fmt.Errorf("replay: open depth gzip stream: %w", err)
	}
	defer depthGz.Close()
	depthScanner := bufio.NewScanner(depthGz)
	depthScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	tradesScanner := bufio.NewScanner(tradesGz)
	tradesScanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lastUpdateTimestamp int64
	for tradesScanner.Scan() {
		line := tradesScanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var trade types.Trade
		if err := json.Unmarshal(line, &trade); err != nil {
			return fmt.Errorf("replay: decode trade line: %w", err)
		}
		trade.Pair = r.pair

		serverTimestamp := trade.ServerTimestamp
		if serverTimestamp-lastUpdateTimestamp >= r.updateResolution {
			if lastUpdateTimestamp == 0 {
				r.update(serverTimestamp, depthScanner)
			} else {
				t := lastUpdateTimestamp
				for {
					t += r.updateResolution
					r.update(t, depthScanner)
					if t >= serverTimestamp {
						break
					}
				}
				serverTimestamp = t
			}
			lastUpdateTimestamp = serverTimestamp
		}

		for !r.state.TradeQueue.Empty() {
			time.Sleep(spinSleep)
		}
		r.state.SetServerTime(serverTimestamp)
		r.state.TradeQueue.Push(trade)
	}
	if err := tradesScanner.Err(); err != nil {
		return fmt.Errorf("replay: scan trades: %w", err)
	}
	return nil
}

// update closes out any pending depth state strictly before serverTimestamp
// and reads ahead until it finds one at or after it, pushing every state
// it passes along the way. Mirrors reader.py's _update exactly.
func (r *SavedStreamReader) update(serverTimestamp int64, depthScanner *bufio.Scanner) {
	if r.pendingDepth != nil && r.pendingDepth.ServerTimestamp < serverTimestamp {
		for !r.state.OrderbookStateQueue.Empty() {
			time.Sleep(spinSleep)
		}
		r.state.SetServerTime(serverTimestamp)
		r.state.OrderbookStateQueue.Push(*r.pendingDepth)
		r.pendingDepth = nil
	}

	if r.pendingDepth == nil {
		for depthScanner.Scan() {
			line := depthScanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var depth types.ReconciledDepth
			if err := json.Unmarshal(line, &depth); err != nil {
				continue
			}
			depth.Pair = r.pair

			if depth.ServerTimestamp < serverTimestamp {
				for !r.state.OrderbookStateQueue.Empty() {
					time.Sleep(spinSleep)
				}
				r.state.SetServerTime(serverTimestamp)
				r.state.OrderbookStateQueue.Push(depth)
			} else {
				r.pendingDepth = &depth
				break
			}
		}
	}

	if !r.haveStart {
		r.startTimestamp = r.state.ServerTime()
		r.haveStart = true
	}

	r.curUpdate++
	if r.progress != nil && r.curUpdate%callbackFreq == 0 {
		cur := r.state.ServerTime()
		span := float64(r.finalTimestamp - r.startTimestamp)
		percent := 100
		if span > 0 {
			percent = int((1 - float64(r.finalTimestamp-cur)/span) * 100)
		}
		r.progress(formatSimDate(cur), r.finalDateStr, percent)
	}
}

// readFinalTradeTimestamp locates the server_timestamp of the archive's
// last trade line, used to report replay progress. reader.py does this
// with a reverse byte-scan over the still-compressed gzip stream to avoid
// decompressing the whole file; compress/gzip's Reader has no Seek, so
// this adaptation streams forward once instead, keeping only the last
// line in memory.
func (r *SavedStreamReader) readFinalTradeTimestamp() (int64, error) {
	f, err := os.Open(r.tradesPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lastLine []byte
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lastLine = append(lastLine[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	if lastLine == nil {
		return 0, fmt.Errorf("no trade lines in %s", r.tradesPath)
	}

	var final struct {
		ServerTimestamp int64 `json:"server_timestamp"`
	}
	if err := json.Unmarshal(lastLine, &final); err != nil {
		return 0, err
	}
	return final.ServerTimestamp, nil
}

func formatSimDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}
