package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge-ai/voxbridge/backend/internal/config"
)

const (
	ttsEndpoint          = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	ttsDefaultResourceID = "volc.service_type.10029"
	ttsSeedResourceID    = "seed-tts-2.0"
	ttsMegaResourceID    = "volc.megatts.default"
)

// TTSClient 火山引擎语音合成WebSocket客户端，实现Synthesizer。
type TTSClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewTTSClient 创建合成客户端。
func NewTTSClient(cfg config.SpeechConfig) *TTSClient {
	return &TTSClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		AudioParams struct {
			Format      string  `json:"format"`
			SampleRate  int     `json:"sample_rate"`
			SpeedRatio  float32 `json:"speed_ratio,omitempty"`
			VolumeRatio float32 `json:"volume_ratio,omitempty"`
		} `json:"audio_params"`
		Language string `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsServerPayload struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 建立合成流。帧在消费时才从供应商读取；调用方必须在所有退出
// 路径上关闭返回的流。
func (c *TTSClient) Synthesize(ctx context.Context, text, voice, language string) (SynthesisStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	if c.cfg.AppID == "" || c.cfg.AccessToken == "" {
		return nil, fmt.Errorf("speech credentials missing: AppID or AccessToken is empty")
	}

	speaker := strings.TrimSpace(voice)
	if speaker == "" {
		speaker = strings.TrimSpace(c.cfg.TTSVoice)
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resolveTTSResourceID(speaker))
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, ttsEndpoint, header)
	if err != nil {
		return nil, fmt.Errorf("connect TTS websocket: %w", err)
	}

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected with logid: %s", logid)
		}
	}

	if err := c.sendRequest(conn, text, speaker, language); err != nil {
		conn.Close()
		return nil, err
	}

	stream := &ttsStream{conn: conn, done: make(chan struct{})}

	// 取消时关闭连接，解除Recv的阻塞读。
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stream.done:
		}
	}()

	return stream, nil
}

func (c *TTSClient) sendRequest(conn *websocket.Conn, text, speaker, language string) error {
	req := &ttsRequest{}
	req.User.UID = uuid.NewString()
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = "mp3"
	req.ReqParams.AudioParams.SampleRate = 24000
	if c.cfg.TTSSpeed > 0 && c.cfg.TTSSpeed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = c.cfg.TTSSpeed
	}
	if c.cfg.TTSVolume > 0 && c.cfg.TTSVolume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = c.cfg.TTSVolume
	}
	if language != "" {
		req.ReqParams.Language = language
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal TTS request: %w", err)
	}

	frame := EncodeFrame(NewFullClientFrame(payload, NoCompression))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send TTS request: %w", err)
	}
	return nil
}

// ttsStream 按需从合成连接读取音频块。非并发安全：每条流只由所属会话的
// 转写循环消费。
type ttsStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	finished  bool
}

func (s *ttsStream) Recv() ([]byte, error) {
	if s.finished {
		return nil, io.EOF
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read TTS response: %w", err)
		}

		frame, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorFrame:
			payload, decErr := DecompressPayload(frame.Payload, frame.Header.Compression)
			if decErr != nil {
				return nil, fmt.Errorf("decode TTS error payload: %w", decErr)
			}
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(payload))

		case AudioOnlyServerFrame:
			chunk, decErr := DecompressPayload(frame.Payload, frame.Header.Compression)
			if decErr != nil {
				return nil, fmt.Errorf("decompress audio chunk: %w", decErr)
			}
			if frame.IsLast() {
				s.finished = true
			}
			if len(chunk) == 0 {
				if s.finished {
					return nil, io.EOF
				}
				continue
			}
			return chunk, nil

		case FullServerFrame:
			chunk, finished, err := s.handleServerPayload(frame)
			if err != nil {
				return nil, err
			}
			if finished {
				s.finished = true
			}
			if len(chunk) > 0 {
				return chunk, nil
			}
			if s.finished {
				return nil, io.EOF
			}

		default:
			log.Printf("[tts] unexpected frame type: %d", frame.Header.Type)
		}
	}
}

func (s *ttsStream) handleServerPayload(frame *Frame) (chunk []byte, finished bool, err error) {
	payload, err := DecompressPayload(frame.Payload, frame.Header.Compression)
	if err != nil {
		return nil, false, fmt.Errorf("decompress TTS payload: %w", err)
	}

	finishedByEvent := frame.Header.Flags&FlagWithEvent == FlagWithEvent &&
		(frame.Event == EventSessionFinished || frame.Event == EventSessionFailed)

	var serverResp ttsServerPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &serverResp); err != nil {
			log.Printf("[tts] failed to unmarshal response payload: %v", err)
		} else {
			if serverResp.Code != 0 && serverResp.Code != 3000 {
				return nil, false, fmt.Errorf("TTS API error %d: %s", serverResp.Code, serverResp.Message)
			}
			if serverResp.Data != "" {
				chunk, err = base64.StdEncoding.DecodeString(serverResp.Data)
				if err != nil {
					return nil, false, fmt.Errorf("decode base64 audio chunk: %w", err)
				}
			}
		}
	}

	finished = finishedByEvent || frame.IsLast() || serverResp.Sequence < 0
	return chunk, finished, nil
}

func (s *ttsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// resolveTTSResourceID 根据音色推断资源ID。
func resolveTTSResourceID(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return ttsDefaultResourceID
	}
	if strings.HasPrefix(voice, "S_") {
		return ttsMegaResourceID
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "mars", "venus", "jupiter", "uranus"} {
		if strings.Contains(normalized, hint) {
			return ttsSeedResourceID
		}
	}
	return ttsDefaultResourceID
}
