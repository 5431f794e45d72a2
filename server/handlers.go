package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvif"
)

// CameraStatus is the JSON form of a controller's state
type CameraStatus struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Phase    string `json:"phase"`
	MediaURL string `json:"media_url,omitempty"`
	PTZURL   string `json:"ptz_url,omitempty"`
	Token    string `json:"profile_token,omitempty"`
	Error    string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var directions = map[string]onvif.MoveVector{
	"left":     onvif.VectorLeft,
	"right":    onvif.VectorRight,
	"up":       onvif.VectorUp,
	"down":     onvif.VectorDown,
	"zoom_in":  onvif.VectorZoomIn,
	"zoom_out": onvif.VectorZoomOut,
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"cameras":     len(s.controllers),
		"subscribers": s.hub.Subscribers(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListCameras(c *gin.Context) {
	cameras := make([]CameraStatus, 0, len(s.controllers))
	for _, name := range s.cameraNames() {
		cameras = append(cameras, s.status(name))
	}
	c.JSON(http.StatusOK, gin.H{"cameras": cameras})
}

func (s *Server) handleGetCamera(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.lookup(c); !ok {
		return
	}
	c.JSON(http.StatusOK, s.status(name))
}

func (s *Server) handleMove(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	vector, ok := directions[c.Param("direction")]
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown direction " + c.Param("direction")})
		return
	}
	if err := ctrl.Move(vector); err != nil {
		s.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"direction": c.Param("direction"), "vector": vector.String()})
}

func (s *Server) handleStop(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := ctrl.Stop(); err != nil {
		s.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"stopped": true})
}

func (s *Server) handleDeviceInfo(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout())
	defer cancel()

	info, err := ctrl.Client().GetDeviceInformation(ctx)
	if err != nil {
		c.JSON(upstreamStatus(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":          info.DisplayName(),
		"manufacturer":  info.Manufacturer,
		"model":         info.Model,
		"firmware":      info.FirmwareVersion,
		"serial_number": info.SerialNumber,
		"hardware_id":   info.HardwareId,
	})
}

// handleStream returns the configured RTSP URL, asking the camera when none
// is configured
func (s *Server) handleStream(c *gin.Context) {
	ctrl, ok := s.lookup(c)
	if !ok {
		return
	}
	if cam, ok := s.cfg.Camera(c.Param("name")); ok && cam.RTSPURL != "" {
		c.JSON(http.StatusOK, gin.H{"uri": cam.RTSPURL, "source": "config"})
		return
	}

	st := ctrl.State()
	if !st.Ready() {
		s.writeControlError(c, onvif.ErrNotReady)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout())
	defer cancel()

	uri, err := ctrl.Client().GetStreamUri(ctx, st.Endpoints.MediaURL, st.Profile.Token)
	if err != nil {
		c.JSON(upstreamStatus(err), errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"uri": uri, "source": "device"})
}

func (s *Server) lookup(c *gin.Context) (*onvif.Controller, bool) {
	ctrl, ok := s.controllers[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown camera " + c.Param("name")})
		return nil, false
	}
	return ctrl, true
}

func (s *Server) status(name string) CameraStatus {
	ctrl := s.controllers[name]
	st := ctrl.State()
	out := CameraStatus{
		Name:     name,
		Address:  ctrl.Client().Address.HostPort(),
		Phase:    st.Phase.String(),
		MediaURL: st.Endpoints.MediaURL,
		PTZURL:   st.Endpoints.PTZURL,
		Token:    st.Profile.Token,
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
	}
	return out
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.PTZ.Timeout > 0 {
		return s.cfg.PTZ.Timeout
	}
	return onvif.DefaultTimeout
}

func (s *Server) writeControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, onvif.ErrNotReady):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, onvif.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, errors.NotValid):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func upstreamStatus(err error) int {
	switch {
	case onvif.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, errors.NotFound):
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
