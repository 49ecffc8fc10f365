package admin

import (
	"io"
	"math"
)

// progressReader считает отданные байты и сообщает процент при каждом его изменении
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	last       int
	onProgress func(int)
}

func newProgressReader(r io.Reader, total int64, onProgress func(int)) *progressReader {
	return &progressReader{r: r, total: total, last: -1, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.onProgress == nil || p.total <= 0 {
		return
	}
	pct := Percent(p.sent, p.total)
	if pct != p.last {
		p.last = pct
		p.onProgress(pct)
	}
}

// Percent = round(sent/total*100), ограничен диапазоном 0..100
func Percent(sent, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(sent) / float64(total) * 100))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
