package xsarama

import (
	"errors"

	"github.com/IBM/sarama"

	"github.com/omeyang/xkclient/pkg/mq/xbroker"
)

// wrapErr 把 sarama 错误转换为 xbroker 错误。
// KError 与 TopicError 保留协议错误码，其余错误原样返回，视为连接级故障。
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var te *sarama.TopicError
	if errors.As(err, &te) {
		msg := te.Err.Error()
		if te.ErrMsg != nil && *te.ErrMsg != "" {
			msg = *te.ErrMsg
		}
		return codeErr(te.Err, msg)
	}
	var ke sarama.KError
	if errors.As(err, &ke) {
		return codeErr(ke, ke.Error())
	}
	return err
}

func codeErr(k sarama.KError, msg string) error {
	if k == sarama.ErrNoError {
		return nil
	}
	return xbroker.NewError(xbroker.ErrorCode(k), msg)
}

func kerr(k sarama.KError) error { return codeErr(k, "") }
