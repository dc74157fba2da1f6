package ffmpeg

import (
	"reflect"
	"strings"
	"testing"
)

const probeLog = `[info] Input #0, mjpeg, from 'http://192.168.1.123/stream':
[info]   Duration: 00:01:05.00, start: 0.000000, bitrate: 512.0 kb/s
[info]   Stream #0:0: Video: mjpeg (Baseline), yuvj422p(pc, bt470bg/unknown/unknown), 1920x1080, 25 tbr, 1200k tbn
frame=    0 fps=0.0 q=0.0 size=N/A time=00:00:00.00 bitrate=N/A speed=   0x
frame=   30 fps= 30 q=-0.0 size=N/A time=00:00:01.00 bitrate=N/A speed=   1x
`

func TestParseMetrics(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want StreamMetrics
	}{
		{
			name: "full probe",
			log:  probeLog,
			want: StreamMetrics{
				RealFPS:            30.0,
				EstimatedFrameRate: 15,
				Resolution:         "1920x1080",
				Duration:           "00:01:05.00",
				Bitrate:            "512.0 kb/s",
				Samples:            []int{0, 30},
			},
		},
		{
			name: "zero samples are ignored in the mean",
			log:  "fps= 0 fps= 0 fps= 24 fps= 0 fps= 26",
			want: StreamMetrics{
				RealFPS:            25.0,
				EstimatedFrameRate: 13,
				Resolution:         NotAvailable,
				Duration:           NotAvailable,
				Bitrate:            NotAvailable,
				Samples:            []int{0, 0, 24, 0, 26},
			},
		},
		{
			name: "all zero",
			log:  "fps= 0\nfps=0.0\n",
			want: StreamMetrics{
				Resolution: NotAvailable,
				Duration:   NotAvailable,
				Bitrate:    NotAvailable,
				Samples:    []int{0, 0},
			},
		},
		{
			name: "empty log",
			log:  "",
			want: StreamMetrics{
				Resolution: NotAvailable,
				Duration:   NotAvailable,
				Bitrate:    NotAvailable,
			},
		},
		{
			name: "mean rounded to one decimal",
			log:  "fps= 10 fps= 10 fps= 11",
			want: StreamMetrics{
				RealFPS:            10.3,
				EstimatedFrameRate: 6,
				Resolution:         NotAvailable,
				Duration:           NotAvailable,
				Bitrate:            NotAvailable,
				Samples:            []int{10, 10, 11},
			},
		},
		{
			name: "fractional fps keeps integer part",
			log:  "fps=29.97",
			want: StreamMetrics{
				RealFPS:            29.0,
				EstimatedFrameRate: 15,
				Resolution:         NotAvailable,
				Duration:           NotAvailable,
				Bitrate:            NotAvailable,
				Samples:            []int{29},
			},
		},
		{
			name: "first resolution wins",
			log:  "Video: h264, 640x480, foo, 1280x720",
			want: StreamMetrics{
				Resolution: "640x480",
				Duration:   NotAvailable,
				Bitrate:    NotAvailable,
			},
		},
		{
			name: "live stream without duration",
			log:  "Duration: N/A, start: 0.000000, bitrate: N/A",
			want: StreamMetrics{
				Resolution: NotAvailable,
				Duration:   NotAvailable,
				Bitrate:    NotAvailable,
			},
		},
		{
			name: "bitrate without per-second suffix",
			log:  "bitrate: 1200 kbits",
			want: StreamMetrics{
				Resolution: NotAvailable,
				Duration:   NotAvailable,
				Bitrate:    "1200 kbits",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMetrics(tt.log)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseMetrics() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMetricsIdempotent(t *testing.T) {
	first := ParseMetrics(probeLog)
	second := ParseMetrics(probeLog)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ParseMetrics not idempotent: %+v vs %+v", first, second)
	}
}

func TestEstimateFrameRate(t *testing.T) {
	tests := []struct {
		fps  float64
		want int
	}{
		{0, 0},
		{-3, 0},
		{0.1, 1},
		{25, 13},
		{30, 15},
		{59.9, 30},
	}
	for _, tt := range tests {
		if got := EstimateFrameRate(tt.fps); got != tt.want {
			t.Errorf("EstimateFrameRate(%v) = %d, want %d", tt.fps, got, tt.want)
		}
	}
}

func TestProbeArgs(t *testing.T) {
	got := strings.Join(ProbeArgs("http://192.168.1.123/stream", 0), " ")
	want := "-hide_banner -loglevel level+info -re -analyzeduration 1M -probesize 1M " +
		"-i http://192.168.1.123/stream -t 10 -f null -"
	if got != want {
		t.Errorf("ProbeArgs() = %q, want %q", got, want)
	}
}

func TestDownloadArgs(t *testing.T) {
	got := DownloadArgs("http://192.168.1.123/stream", 15, "/dl/DownloadedVideos/output1.mp4")
	want := []string{
		"-hide_banner", "-loglevel", "level+info", "-n",
		"-i", "http://192.168.1.123/stream",
		"-r", "15",
		"/dl/DownloadedVideos/output1.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DownloadArgs() = %v, want %v", got, want)
	}

	frac := DownloadArgs("u", 12.5, "o.mp4")
	if frac[7] != "12.5" {
		t.Errorf("fractional frame rate = %q, want 12.5", frac[7])
	}
}
