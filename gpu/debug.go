package gpu

import (
	"github.com/sirupsen/logrus"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
)

// DebugMessenger forwards validation layer output to a logger.
type DebugMessenger struct {
	handle ext_debug_utils.DebugUtilsMessenger
}

func NewDebugMessenger(instance *Instance, logger logrus.FieldLogger) (*DebugMessenger, error) {
	extension := ext_debug_utils.CreateExtensionFromInstance(instance.handle)
	handle, res, err := extension.CreateDebugUtilsMessenger(instance.handle, nil, debugMessengerInfo(logger))
	if err != nil {
		return nil, creationError(res, err, "debug messenger")
	}
	return &DebugMessenger{handle: handle}, nil
}

func (m *DebugMessenger) Destroy() {
	m.handle.Destroy(nil)
}

func debugMessengerInfo(logger logrus.FieldLogger) ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning |
			ext_debug_utils.SeverityInfo | ext_debug_utils.SeverityVerbose,
		MessageType: ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback: func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
			entry := logger.WithField("type", msgType.String())
			switch logLevel(severity) {
			case logrus.ErrorLevel:
				entry.Error(data.Message)
			case logrus.WarnLevel:
				entry.Warn(data.Message)
			case logrus.InfoLevel:
				entry.Info(data.Message)
			default:
				entry.Debug(data.Message)
			}
			return false
		},
	}
}

func logLevel(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) logrus.Level {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return logrus.ErrorLevel
	case severity&ext_debug_utils.SeverityWarning != 0:
		return logrus.WarnLevel
	case severity&ext_debug_utils.SeverityInfo != 0:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
