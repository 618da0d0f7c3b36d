package inject

import (
	"context"

	"go.viam.com/depthcapture/capture"
)

// FrameSource is an injected frame source.
type FrameSource struct {
	capture.FrameSource
	PropertiesFunc            func() capture.Properties
	StartFunc                 func(ctx context.Context, handlers capture.Handlers) error
	StopFunc                  func(ctx context.Context) error
	ReconfigureFunc           func(ctx context.Context, cfg capture.CameraConfiguration) error
	ConfigurationFunc         func() capture.CameraConfiguration
	SetDepthFilterEnabledFunc func(enabled bool)
	CloseFunc                 func(ctx context.Context) error
}

// Properties calls the injected Properties or the real version.
func (s *FrameSource) Properties() capture.Properties {
	if s.PropertiesFunc == nil {
		return s.FrameSource.Properties()
	}
	return s.PropertiesFunc()
}

// Start calls the injected Start or the real version.
func (s *FrameSource) Start(ctx context.Context, handlers capture.Handlers) error {
	if s.StartFunc == nil {
		return s.FrameSource.Start(ctx, handlers)
	}
	return s.StartFunc(ctx, handlers)
}

// Stop calls the injected Stop or the real version.
func (s *FrameSource) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return s.FrameSource.Stop(ctx)
	}
	return s.StopFunc(ctx)
}

// Reconfigure calls the injected Reconfigure or the real version.
func (s *FrameSource) Reconfigure(ctx context.Context, cfg capture.CameraConfiguration) error {
	if s.ReconfigureFunc == nil {
		return s.FrameSource.Reconfigure(ctx, cfg)
	}
	return s.ReconfigureFunc(ctx, cfg)
}

// Configuration calls the injected Configuration or the real version.
func (s *FrameSource) Configuration() capture.CameraConfiguration {
	if s.ConfigurationFunc == nil {
		return s.FrameSource.Configuration()
	}
	return s.ConfigurationFunc()
}

// SetDepthFilterEnabled calls the injected SetDepthFilterEnabled or the real version.
func (s *FrameSource) SetDepthFilterEnabled(enabled bool) {
	if s.SetDepthFilterEnabledFunc == nil {
		s.FrameSource.SetDepthFilterEnabled(enabled)
		return
	}
	s.SetDepthFilterEnabledFunc(enabled)
}

// Close calls the injected Close or the real version.
func (s *FrameSource) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.FrameSource == nil {
			return nil
		}
		return s.FrameSource.Close(ctx)
	}
	return s.CloseFunc(ctx)
}
