package ffmpeg

import (
	"math"
	"regexp"
	"strconv"
)

// NotAvailable is reported for descriptor fields missing from the log.
const NotAvailable = "N/A"

// Tokens recognised in ffmpeg output. Each pattern is anchored on a literal
// key so the grammar stays the same across regex engines:
//
//	fps        = "fps=" WS* DIGITS             (integer part only, every occurrence)
//	resolution = ", " DIGITS{2,5} "x" DIGITS{2,5} (first occurrence)
//	duration   = "Duration: " HH ":" MM ":" SS "." FF (first occurrence)
//	bitrate    = "bitrate: " DIGITS ["." DIGITS] " " WORD ["/s"] (first occurrence)
var (
	fpsToken        = regexp.MustCompile(`fps=\s*(\d+)`)
	resolutionToken = regexp.MustCompile(`, (\d{2,5}x\d{2,5})`)
	durationToken   = regexp.MustCompile(`Duration: (\d{2}:\d{2}:\d{2}\.\d{2})`)
	bitrateToken    = regexp.MustCompile(`bitrate: (\d+(?:\.\d+)? \w+(?:/s)?)`)
)

// StreamMetrics holds the statistics extracted from one probe log.
type StreamMetrics struct {
	RealFPS            float64 `json:"real_fps"`
	EstimatedFrameRate int     `json:"estimated_frame_rate"`
	Resolution         string  `json:"resolution"`
	Duration           string  `json:"duration"`
	Bitrate            string  `json:"bitrate"`
	Samples            []int   `json:"samples,omitempty"`
}

// ParseMetrics extracts stream metrics from the full text of an ffmpeg log.
//
// RealFPS is the mean of the non-zero fps samples rounded to one decimal.
// EstimatedFrameRate is ceil(RealFPS/2): downloads run at half the observed
// rate to keep bandwidth down.
func ParseMetrics(log string) StreamMetrics {
	m := StreamMetrics{
		Resolution: firstMatch(resolutionToken, log),
		Duration:   firstMatch(durationToken, log),
		Bitrate:    firstMatch(bitrateToken, log),
	}

	var sum, count int
	for _, match := range fpsToken.FindAllStringSubmatch(log, -1) {
		sample, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		m.Samples = append(m.Samples, sample)
		if match[1] == "0" {
			continue
		}
		sum += sample
		count++
	}

	if count > 0 {
		m.RealFPS = math.Round(float64(sum)/float64(count)*10) / 10
	}
	m.EstimatedFrameRate = EstimateFrameRate(m.RealFPS)
	return m
}

// EstimateFrameRate returns the download frame rate suggested for a stream
// observed at realFPS.
func EstimateFrameRate(realFPS float64) int {
	if realFPS <= 0 {
		return 0
	}
	return int(math.Ceil(realFPS / 2))
}

func firstMatch(re *regexp.Regexp, s string) string {
	if match := re.FindStringSubmatch(s); match != nil {
		return match[1]
	}
	return NotAvailable
}
