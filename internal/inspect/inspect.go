// internal/inspect/inspect.go
package inspect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"device-analytics/internal/model"

	json "github.com/goccy/go-json"
	"github.com/hpcloud/tail"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// FollowOptions
//   - FromStart: 파일 처음부터 읽는다 (false 면 끝에서부터 새 줄만)
//   - Poll: inotify 대신 polling (컨테이너, 네트워크 파일시스템)
type FollowOptions struct {
	FromStart bool
	Poll      bool
}

// Follow 는 current_log 에 append 되는 레코드를 실시간으로 fn 에 넘긴다.
// 회전(rename) 뒤 새 current_log 가 생기면 다시 열어서 계속 따라간다.
// ctx 가 끝나면 nil 을 돌려준다.
func Follow(ctx context.Context, path string, opts FollowOptions, fn func(model.Record)) error {
	whence := io.SeekEnd
	if opts.FromStart {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		Poll:      opts.Poll,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("inspect: tail %s: %w", path, err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				log.Warn().Err(line.Err).Str("path", path).Msg("tail read error")
				continue
			}
			rec, err := decodeLine([]byte(line.Text))
			if err != nil {
				// 쓰는 중인 줄은 다음 write 에서 완성된다
				log.Debug().Err(err).Msg("skipping undecodable line")
				continue
			}
			fn(rec)
		}
	}
}

func decodeLine(b []byte) (model.Record, error) {
	var rec model.Record
	err := json.Unmarshal(bytes.TrimSpace(b), &rec)
	return rec, err
}

// ReadBatchFile 은 batch 파일(평문 JSONL) 또는 업로드된 .jsonl.gz 를 읽는다.
func ReadBatchFile(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeBatch(f)
}

// DecodeBatch 는 gzip magic(1f 8b) 이면 압축을 풀고 JSONL 을 레코드로 읽는다.
// 빈 줄은 건너뛰고, 깨진 줄이 있으면 줄 번호와 함께 에러.
func DecodeBatch(r io.Reader) ([]model.Record, error) {
	br := bufio.NewReader(r)

	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("inspect: gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	// 줄 길이 상한 없음: batch 에는 1MiB 를 넘는 단일 이벤트도 들어갈 수 있다.
	lr := bufio.NewReader(src)

	var out []model.Record
	lineNo := 0
	for {
		raw, err := lr.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			if line := bytes.TrimSpace(raw); len(line) > 0 {
				rec, derr := decodeLine(line)
				if derr != nil {
					return out, fmt.Errorf("inspect: line %d: %w", lineNo, derr)
				}
				out = append(out, rec)
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("inspect: read: %w", err)
		}
	}
}
