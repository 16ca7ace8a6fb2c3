package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/msageha/statusd/internal/engine"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/uds"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CommandPing, func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})
	d.server.Handle(uds.CommandSubmit, d.handleSubmit)
	d.server.Handle(uds.CommandKick, d.handleKick)
	d.server.Handle(uds.CommandStatus, d.handleStatus)
	d.server.Handle(uds.CommandListeners, func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(uds.ListenersResult{IDs: d.registry.IDs()})
	})
	d.server.Handle(uds.CommandShutdown, func(context.Context, *uds.Request) *uds.Response {
		d.logger.Infof("shutdown_requested via=control_socket")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleSubmit(ctx context.Context, req *uds.Request) *uds.Response {
	var p uds.SubmitParams
	if err := req.DecodeParams(&p); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	kind := model.ParseKind(p.Kind)
	if kind == model.KindUnknown {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("unknown command kind %q", p.Kind))
	}
	if p.ItemID < 0 {
		return uds.ErrorResponse(uds.ErrCodeValidation, "item_id must not be negative")
	}

	cmd := model.NewCommand(kind, p.ItemID, p.Params)
	if err := d.engine.Submit(ctx, cmd); err != nil {
		return engineError(err)
	}
	d.logger.Debugf("submit_received %s", cmd)
	return uds.SuccessResponse(uds.SubmitResult{Accepted: true, Command: cmd.String()})
}

func (d *Daemon) handleKick(ctx context.Context, _ *uds.Request) *uds.Response {
	if err := d.engine.Kick(ctx); err != nil {
		return engineError(err)
	}
	return uds.SuccessResponse(map[string]string{"status": "kicked"})
}

func (d *Daemon) handleStatus(ctx context.Context, _ *uds.Request) *uds.Response {
	st := d.engine.Status()
	res := uds.StatusResult{
		PID:       os.Getpid(),
		Restored:  st.Restored,
		Running:   st.Running,
		Closed:    st.Closed,
		Main:      st.Main,
		Retry:     st.Retry,
		Listeners: st.Listeners,
		Online:    d.prober.Online(ctx),
	}
	if d.alarm.Active() {
		res.Alarm = fmt.Sprintf("every %s, next %s", d.alarm.Interval(), d.alarm.Next().Format(time.RFC3339))
	}
	return uds.SuccessResponse(res)
}

func engineError(err error) *uds.Response {
	switch {
	case errors.Is(err, engine.ErrClosed):
		return uds.ErrorResponse(uds.ErrCodeClosed, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		return uds.ErrorResponse(uds.ErrCodeQueueFull, err.Error())
	case errors.Is(err, engine.ErrNotRestored):
		return uds.ErrorResponse(uds.ErrCodeNotRestored, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
