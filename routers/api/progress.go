package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ExplainerVideo-server/models"
	"ExplainerVideo-server/render"
	"ExplainerVideo-server/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PushInterval is how often the websocket re-reads progress.
var PushInterval = time.Second

const writeWait = 10 * time.Second

// 启动渲染：POST /v1/api/projects/:project_id/render
func (h *Handler) StartRender(c *gin.Context) {
	res, err := h.o.StartRender(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		fail(c, err)
		return
	}
	code := http.StatusOK
	if res == service.RenderAccepted {
		code = http.StatusAccepted
	}
	c.JSON(code, gin.H{"status": res})
}

func (h *Handler) RenderStatus(c *gin.Context) {
	pr, err := h.o.PollRender(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pr)
}

// progressFrame is one websocket message.
type progressFrame struct {
	Generation service.GenerationStatus `json:"generation"`
	Render     *render.Progress         `json:"render,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

func (h *Handler) snapshot(ctx context.Context, id string) (progressFrame, error) {
	st, err := h.o.PollGeneration(ctx, id)
	if err != nil {
		return progressFrame{}, err
	}
	f := progressFrame{Generation: st}
	if st.Status == models.ProjectStatusRendering || st.Status == models.ProjectStatusDone {
		if pr, err := h.o.PollRender(ctx, id); err == nil {
			f.Render = &pr
			// 重启检测可能已将状态改回 GENERATED
			if pr.Done && pr.Error != "" {
				f.Generation.Status = models.ProjectStatusGenerated
			}
		}
	}
	return f, nil
}

// finished reports whether nothing is left to push.
func (f progressFrame) finished() bool {
	if f.Generation.Running {
		return false
	}
	return f.Generation.Status != models.ProjectStatusRendering && (f.Render == nil || f.Render.Done)
}

func (f progressFrame) changed(prev progressFrame) bool {
	if f.Generation != prev.Generation {
		return true
	}
	if (f.Render == nil) != (prev.Render == nil) {
		return true
	}
	if f.Render == nil {
		return false
	}
	return f.Render.Progress != prev.Render.Progress ||
		f.Render.RenderedFrames != prev.Render.RenderedFrames ||
		f.Render.Done != prev.Render.Done ||
		f.Render.TimeRemaining != prev.Render.TimeRemaining
}

// 生成/渲染进度 WebSocket 推送：先推送当前状态，然后按间隔轮询，有变化时推送，结束后关闭
func (h *Handler) ProgressWebSocket(c *gin.Context) {
	projectID := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已写回错误响应
		return
	}
	defer conn.Close()

	// 读协程：客户端关闭连接后停止轮询
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	send := func(f progressFrame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f)
	}

	prev, err := h.snapshot(ctx, projectID)
	if err != nil {
		_ = send(progressFrame{Error: err.Error()})
		return
	}
	if err := send(prev); err != nil || prev.finished() {
		return
	}

	ticker := time.NewTicker(PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}
		cur, err := h.snapshot(ctx, projectID)
		if err != nil {
			_ = send(progressFrame{Error: err.Error()})
			return
		}
		if cur.changed(prev) {
			if err := send(cur); err != nil {
				return
			}
			prev = cur
		}
		if cur.finished() {
			return
		}
	}
}
