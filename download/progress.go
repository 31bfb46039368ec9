package download

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress/perf"
)

// progressReader wraps an io.Reader and logs periodic transfer progress.
// It is used by a single io.Copy and is not safe for concurrent use.
type progressReader struct {
	r        io.Reader
	logger   logrus.FieldLogger
	total    int64
	read     int64
	started  time.Time
	lastLog  time.Time
	interval time.Duration
}

func newProgressReader(r io.Reader, logger logrus.FieldLogger, total int64, interval time.Duration) *progressReader {
	now := time.Now()
	return &progressReader{r: r, logger: logger, total: total, started: now, lastLog: now, interval: interval}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		if now := time.Now(); now.Sub(p.lastLog) >= p.interval {
			p.log(now)
			p.lastLog = now
		}
	}
	return n, err
}

func (p *progressReader) log(now time.Time) {
	fields := logrus.Fields{"downloaded": perf.FormatBytes(p.read)}
	if elapsed := now.Sub(p.started).Seconds(); elapsed > 0 {
		fields["avg_rate"] = perf.FormatBytes(int64(float64(p.read)/elapsed)) + "/s"
	}
	if p.total > 0 {
		fields["total"] = perf.FormatBytes(p.total)
		fields["percent"] = fmt.Sprintf("%.1f", float64(p.read)/float64(p.total)*100)
	}
	p.logger.WithFields(fields).Debug("download progress")
}
