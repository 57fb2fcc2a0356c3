package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voxbridge-ai/voxbridge/backend/internal/config"
)

const (
	asrEndpoint   = "wss://openspeech.bytedance.com/api/v3/sauc/bigmodel_nostream"
	asrResourceID = "volc.bigasr.sauc.duration"
	// 16kHz 16bit 单声道，每包约200ms音频
	asrChunkSize = 6400
)

// ASRClient 火山引擎语音识别WebSocket客户端，实现Transcriber。
type ASRClient struct {
	cfg    config.SpeechConfig
	dialer *websocket.Dialer
}

// NewASRClient 创建识别客户端。
func NewASRClient(cfg config.SpeechConfig) *ASRClient {
	return &ASRClient{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user,omitempty"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrServerPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text string `json:"text"`
	} `json:"result,omitempty"`
}

// Transcribe 发送整段音频并等待最终识别文本。
// 失败返回错误由调用方记录；转写管线会将其降级为空文本。
func (c *ASRClient) Transcribe(ctx context.Context, audio []byte, format, language string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data to transcribe")
	}

	if c.cfg.AppID == "" || c.cfg.AccessToken == "" {
		return "", fmt.Errorf("speech credentials missing: AppID or AccessToken is empty")
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", c.cfg.AppID)
	header.Set("X-Api-Access-Key", c.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", asrResourceID)
	header.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, asrEndpoint, header)
	if err != nil {
		return "", fmt.Errorf("connect ASR websocket: %w", err)
	}
	defer conn.Close()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[asr] connected with logid: %s", logid)
		}
	}

	if err := c.sendRequest(conn, format, language); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 取消时关闭连接，解除阻塞中的读写。
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// 并发发送音频并接收识别结果，服务端提前报错时不再继续推流。
	sendErrCh := make(chan error, 1)
	go func() {
		sendErrCh <- c.sendAudio(ctx, conn, audio)
	}()

	textCh := make(chan string, 1)
	recvErrCh := make(chan error, 1)
	go func() {
		text, err := c.receiveResult(conn)
		if err != nil {
			recvErrCh <- err
			return
		}
		textCh <- text
	}()

	for {
		select {
		case err := <-sendErrCh:
			if err != nil {
				cancel()
				return "", fmt.Errorf("send audio data: %w", err)
			}
			sendErrCh = nil
		case text := <-textCh:
			return text, nil
		case err := <-recvErrCh:
			return "", err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *ASRClient) sendRequest(conn *websocket.Conn, format, language string) error {
	req := &asrRequest{}
	req.User.UID = uuid.NewString()

	req.Audio.Format = format
	if req.Audio.Format == "" {
		req.Audio.Format = "wav"
	}
	req.Audio.Language = language
	if req.Audio.Language == "" {
		req.Audio.Language = c.cfg.ASRLanguage
	}
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1

	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal ASR request: %w", err)
	}

	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return fmt.Errorf("compress ASR request: %w", err)
	}

	frame := EncodeFrame(NewFullClientFrame(compressed, GzipCompression))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("send ASR request: %w", err)
	}
	return nil
}

func (c *ASRClient) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// FullClientFrame占用序号1，音频从2开始。
	sequence := int32(2)

	for offset := 0; offset < len(audio); offset += asrChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + asrChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		isLast := end >= len(audio)

		compressed, err := CompressPayload(audio[offset:end], GzipCompression)
		if err != nil {
			return fmt.Errorf("compress audio chunk: %w", err)
		}

		frame := EncodeFrame(NewAudioClientFrame(compressed, sequence, isLast, GzipCompression))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("send audio chunk: %w", err)
		}
		sequence++
	}

	return nil
}

func (c *ASRClient) receiveResult(conn *websocket.Conn) (string, error) {
	var lastText string

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read ASR response: %w", err)
		}

		frame, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("decode ASR frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorFrame:
			payload, err := DecompressPayload(frame.Payload, frame.Header.Compression)
			if err != nil {
				return "", fmt.Errorf("decode ASR error payload: %w", err)
			}
			return "", fmt.Errorf("ASR error %d: %s", frame.ErrorCode, string(payload))

		case FullServerFrame:
			payload, err := DecompressPayload(frame.Payload, frame.Header.Compression)
			if err != nil {
				return "", fmt.Errorf("decompress ASR payload: %w", err)
			}

			var serverResp asrServerPayload
			if len(payload) > 0 {
				if err := json.Unmarshal(payload, &serverResp); err != nil {
					return "", fmt.Errorf("unmarshal ASR payload: %w", err)
				}
				if serverResp.Code != 0 && serverResp.Code != 20000000 {
					return "", fmt.Errorf("ASR API error %d: %s", serverResp.Code, serverResp.Message)
				}
				if serverResp.Result.Text != "" {
					lastText = serverResp.Result.Text
				}
			}

			if frame.IsLast() {
				return strings.TrimSpace(lastText), nil
			}

		default:
			log.Printf("[asr] unexpected frame type: %d", frame.Header.Type)
		}
	}
}
