package servers

import (
	"errors"
	"io"
	"net/http"

	"github.com/bililive-tools/bililive-tools/src/configs"
	"github.com/bililive-tools/bililive-tools/src/instance"
	applog "github.com/bililive-tools/bililive-tools/src/log"
	"github.com/bililive-tools/bililive-tools/src/metrics"
	"github.com/bililive-tools/bililive-tools/src/webhook"
)

// ackOK 各录制后端不关心响应内容，但失败状态码会触发它们重发，
// 所以除参数校验外一律回 ok
func ackOK(writer http.ResponseWriter) {
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write([]byte("ok"))
}

func webhookBody(r *http.Request) ([]byte, *webhook.Reconciler, bool) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil || !cfg.Webhook.Open {
		return nil, nil, false
	}
	inst := instance.GetInstance(r.Context())
	reconciler, ok := inst.WebhookReconciler.(*webhook.Reconciler)
	if !ok {
		return nil, nil, false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		applog.GetLogger().WithError(err).Warn("failed to read webhook body")
		return nil, nil, false
	}
	return body, reconciler, true
}

func webhookBiliRecorder(writer http.ResponseWriter, r *http.Request) {
	defer ackOK(writer)
	body, reconciler, ok := webhookBody(r)
	if !ok {
		return
	}
	metrics.WebhookEvents.WithLabelValues(webhook.PlatformBiliRecorder).Inc()

	ev, err := webhook.NormalizeBililiveRecorder(body, configs.GetCurrentConfig().Webhook.RecoderFolder)
	if err != nil || ev == nil {
		return
	}
	reconciler.Ingest(r.Context(), ev)
}

func webhookBlrec(writer http.ResponseWriter, r *http.Request) {
	defer ackOK(writer)
	body, reconciler, ok := webhookBody(r)
	if !ok {
		return
	}
	metrics.WebhookEvents.WithLabelValues(webhook.PlatformBlrec).Inc()

	rooms := webhook.NewBlrecRoomClient(configs.GetCurrentConfig().Webhook.BlrecSource)
	ev, err := webhook.NormalizeBlrec(body, rooms)
	if err != nil || ev == nil {
		return
	}
	reconciler.Ingest(r.Context(), ev)
}

func webhookDDTV(writer http.ResponseWriter, r *http.Request) {
	defer ackOK(writer)
	body, reconciler, ok := webhookBody(r)
	if !ok {
		return
	}
	metrics.WebhookEvents.WithLabelValues(webhook.PlatformDDTV).Inc()

	res, err := webhook.NormalizeDDTV(body)
	if err != nil || res == nil {
		return
	}
	reconciler.IngestDDTV(r.Context(), res)
}

func webhookCustom(writer http.ResponseWriter, r *http.Request) {
	body, reconciler, ok := webhookBody(r)
	if !ok {
		ackOK(writer)
		return
	}
	metrics.WebhookEvents.WithLabelValues(webhook.PlatformCustom).Inc()

	ev, err := webhook.NormalizeCustom(body)
	if err != nil {
		if errors.Is(err, webhook.ErrValidation) {
			metrics.WebhookRejected.Inc()
			writeJsonWithStatusCode(writer, http.StatusBadRequest, commonResp{
				ErrNo:  http.StatusBadRequest,
				ErrMsg: err.Error(),
			})
			return
		}
		ackOK(writer)
		return
	}
	reconciler.Ingest(r.Context(), ev)
	ackOK(writer)
}
