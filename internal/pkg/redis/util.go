package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetValue 获取字符串类型的值，键不存在时返回空串
func GetValue(ctx context.Context, key string) (string, error) {
	value, err := Rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// SetNXWithExpiration 仅当键不存在时写入，返回是否写入成功
func SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return Rdb.SetNX(ctx, key, value, expiration).Result()
}

// SAdd 向集合添加成员并刷新过期时间
func SAdd(ctx context.Context, key string, member string, expiration time.Duration) error {
	pipe := Rdb.TxPipeline()
	pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, expiration)
	_, err := pipe.Exec(ctx)
	return err
}

// SRem 从集合移除成员，返回移除后的集合大小
func SRem(ctx context.Context, key string, member string) (int64, error) {
	pipe := Rdb.TxPipeline()
	pipe.SRem(ctx, key, member)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// SMembers 获取集合全部成员
func SMembers(ctx context.Context, key string) ([]string, error) {
	return Rdb.SMembers(ctx, key).Result()
}

// SCard 获取集合大小
func SCard(ctx context.Context, key string) (int64, error) {
	return Rdb.SCard(ctx, key).Result()
}

// HSetWithExpiration 写入哈希字段并刷新过期时间
func HSetWithExpiration(ctx context.Context, key string, fields map[string]interface{}, expiration time.Duration) error {
	pipe := Rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, expiration)
	_, err := pipe.Exec(ctx)
	return err
}

// HGetAll 获取整个哈希，键不存在时返回空 map
func HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return Rdb.HGetAll(ctx, key).Result()
}

// Expire 刷新键的过期时间
func Expire(ctx context.Context, key string, expiration time.Duration) error {
	return Rdb.Expire(ctx, key, expiration).Err()
}

// ZAddWithExpiration 向有序集合写入成员并刷新过期时间
func ZAddWithExpiration(ctx context.Context, key string, score float64, member string, expiration time.Duration) error {
	pipe := Rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, expiration)
	_, err := pipe.Exec(ctx)
	return err
}

// ZRem 从有序集合移除成员
func ZRem(ctx context.Context, key string, member string) error {
	return Rdb.ZRem(ctx, key, member).Err()
}

// ZRangeAlive 先剔除分数小于 now 的过期成员，再返回剩余成员
func ZRangeAlive(ctx context.Context, key string, now float64) ([]string, error) {
	pipe := Rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+formatScore(now))
	rng := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return rng.Val(), nil
}

// RPushCapped 追加列表元素，裁剪超出上限的最旧部分并刷新过期时间
func RPushCapped(ctx context.Context, key string, value string, maxLen int64, expiration time.Duration) error {
	pipe := Rdb.TxPipeline()
	pipe.RPush(ctx, key, value)
	pipe.LTrim(ctx, key, -maxLen, -1)
	pipe.Expire(ctx, key, expiration)
	_, err := pipe.Exec(ctx)
	return err
}

// ListDrain 原子地读出整个列表并删除，保持先进先出顺序
func ListDrain(ctx context.Context, key string) ([]string, error) {
	pipe := Rdb.TxPipeline()
	rng := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return rng.Val(), nil
}

// ListLen 返回列表长度
func ListLen(ctx context.Context, key string) (int64, error) {
	return Rdb.LLen(ctx, key).Result()
}

// DeleteKey 删除一个键
func DeleteKey(ctx context.Context, key string) error {
	return Rdb.Del(ctx, key).Err()
}

// Publish 发布消息，返回收到消息的订阅者数量
func Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return Rdb.Publish(ctx, channel, payload).Result()
}

// Subscribe 订阅若干频道
func Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return Rdb.Subscribe(ctx, channels...)
}

// ScanKeys 按模式扫描键
func ScanKeys(ctx context.Context, pattern string, count int64) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := Rdb.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// GetRdbClient 获取redis客户端
func GetRdbClient() *redis.Client {
	return Rdb
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
