package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"promotoken/internal/pkg/redis"
	"promotoken/internal/service/promotion/domain"
)

const (
	createCodeScriptName   = "promo_create_code"
	deleteCodeScriptName   = "promo_delete_code"
	replaceCodesScriptName = "promo_replace_codes"
	createTokenScriptName  = "promo_create_token"
	markUsedScriptName     = "promo_mark_used"

	// 所有 key 共用 {registry} 哈希标签，保证集群模式下脚本涉及的 key 落在同一个槽位
	redisPrefix = "promo:{registry}"
)

// RedisStore 是 domain.Store 的 redis 实现。
// 唯一性检查和兑换状态转换都在 Lua 脚本内完成，redis 单线程执行保证了原子性。
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore 创建 redis 仓储，并加载所有需要的 Lua 脚本
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	scripts := map[string]string{
		createCodeScriptName:   createCodeScript,
		deleteCodeScriptName:   deleteCodeScript,
		replaceCodesScriptName: replaceCodesScript,
		createTokenScriptName:  createTokenScript,
		markUsedScriptName:     markUsedScript,
	}
	for name, src := range scripts {
		if err := client.LoadScriptFromContent(name, src); err != nil {
			return nil, fmt.Errorf("failed to load critical registry script: %w", err)
		}
	}
	return &RedisStore{client: client}, nil
}

func codeIndexKey() string       { return redisPrefix + ":code_index" }
func codeIDsKey() string         { return redisPrefix + ":code_ids" }
func codeSeqKey() string         { return redisPrefix + ":code_seq" }
func codeKey(id int64) string    { return fmt.Sprintf("%s:code:%d", redisPrefix, id) }
func tokenSeqKey() string        { return redisPrefix + ":token_seq" }
func tokensKey() string          { return redisPrefix + ":tokens" }
func tokenKey(tok string) string { return redisPrefix + ":token:" + tok }

func (r *RedisStore) CreatePromoCode(ctx context.Context, code, description string) (*domain.PromoCode, error) {
	res, err := r.client.RunScript(ctx, createCodeScriptName,
		[]string{codeIndexKey(), codeSeqKey(), codeIDsKey()},
		code, description, redisPrefix)
	if err != nil {
		return nil, storeErr("create promo code", errors.Wrapf(err, "run create script for %q", code))
	}
	id, ok := res.(int64)
	if !ok {
		return nil, storeErr("create promo code", fmt.Errorf("unexpected result type from Lua script: %T", res))
	}
	if id < 0 {
		return nil, domain.ErrDuplicateCode
	}
	return &domain.PromoCode{ID: id, Code: code, Description: description}, nil
}

func (r *RedisStore) GetPromoCodeByID(ctx context.Context, id int64) (*domain.PromoCode, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, codeKey(id)).Result()
	if err != nil {
		return nil, storeErr("get promo code", errors.Wrapf(err, "hgetall code %d", id))
	}
	if len(fields) == 0 {
		return nil, domain.ErrPromoCodeNotFound
	}
	return promoCodeFromHash(fields)
}

func (r *RedisStore) GetPromoCodeByCode(ctx context.Context, code string) (*domain.PromoCode, error) {
	id, err := r.client.GetClient().HGet(ctx, codeIndexKey(), code).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, storeErr("get promo code", errors.Wrapf(err, "lookup code %q", code))
	}
	return r.GetPromoCodeByID(ctx, id)
}

func (r *RedisStore) ListPromoCodes(ctx context.Context) ([]*domain.PromoCode, error) {
	rdb := r.client.GetClient()
	ids, err := rdb.SMembers(ctx, codeIDsKey()).Result()
	if err != nil {
		return nil, storeErr("list promo codes", err)
	}
	pipe := rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, redisPrefix+":code:"+id)
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, storeErr("list promo codes", err)
		}
	}
	codes := make([]*domain.PromoCode, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		pc, err := promoCodeFromHash(fields)
		if err != nil {
			return nil, err
		}
		codes = append(codes, pc)
	}
	domain.SortPromoCodes(codes)
	return codes, nil
}

func (r *RedisStore) DeletePromoCode(ctx context.Context, id int64) error {
	res, err := r.client.RunScript(ctx, deleteCodeScriptName,
		[]string{codeIndexKey(), codeIDsKey(), codeKey(id)}, id)
	if err != nil {
		return storeErr("delete promo code", errors.Wrapf(err, "run delete script for %d", id))
	}
	if n, _ := res.(int64); n == 0 {
		return domain.ErrPromoCodeNotFound
	}
	return nil
}

func (r *RedisStore) ReplacePromoCodes(ctx context.Context, seeds []domain.PromoCodeSeed) ([]*domain.PromoCode, error) {
	seen := make(map[string]struct{}, len(seeds))
	args := make([]interface{}, 0, 1+2*len(seeds))
	args = append(args, redisPrefix)
	for _, s := range seeds {
		if _, dup := seen[s.Code]; dup {
			return nil, domain.ErrDuplicateCode
		}
		seen[s.Code] = struct{}{}
		args = append(args, s.Code, s.Description)
	}
	_, err := r.client.RunScript(ctx, replaceCodesScriptName,
		[]string{codeIndexKey(), codeIDsKey(), codeSeqKey()}, args...)
	if err != nil {
		return nil, storeErr("replace promo codes", err)
	}
	return r.ListPromoCodes(ctx)
}

func (r *RedisStore) CreateToken(ctx context.Context, token string, promoCodeID int64) (*domain.Token, error) {
	createdAt := time.Now().UTC()
	res, err := r.client.RunScript(ctx, createTokenScriptName,
		[]string{tokenKey(token), tokenSeqKey(), tokensKey()},
		token, promoCodeID, createdAt.Format(time.RFC3339Nano), createdAt.UnixMilli())
	if err != nil {
		return nil, storeErr("create token", errors.Wrapf(err, "run create script for promo code %d", promoCodeID))
	}
	id, ok := res.(int64)
	if !ok {
		return nil, storeErr("create token", fmt.Errorf("unexpected result type from Lua script: %T", res))
	}
	if id < 0 {
		return nil, domain.ErrDuplicateToken
	}
	return &domain.Token{ID: id, Token: token, PromoCodeID: promoCodeID, CreatedAt: createdAt}, nil
}

func (r *RedisStore) GetToken(ctx context.Context, token string) (*domain.Token, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, tokenKey(token)).Result()
	if err != nil {
		return nil, storeErr("get token", errors.Wrapf(err, "hgetall token %s", domain.TokenPrefix(token)))
	}
	if len(fields) == 0 {
		return nil, domain.ErrTokenNotFound
	}
	return tokenFromHash(fields)
}

// MarkTokenUsed 通过 Lua 脚本执行 check-and-set
func (r *RedisStore) MarkTokenUsed(ctx context.Context, token string, result json.RawMessage) (*domain.Token, error) {
	usedAt := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.client.RunScript(ctx, markUsedScriptName, []string{tokenKey(token)}, usedAt, string(result))
	if err != nil {
		return nil, storeErr("mark token used", errors.Wrapf(err, "run mark-used script for %s", domain.TokenPrefix(token)))
	}
	code, ok := res.(int64)
	if !ok {
		return nil, storeErr("mark token used", fmt.Errorf("unexpected result type from Lua script: %T", res))
	}
	switch code {
	case 1:
		return r.GetToken(ctx, token)
	case 0:
		return nil, domain.ErrTokenNotFound
	case 2:
		return nil, domain.ErrTokenAlreadyUsed
	default:
		return nil, storeErr("mark token used", fmt.Errorf("unknown result code from mark-used script: %d", code))
	}
}

func (r *RedisStore) ListTokens(ctx context.Context) ([]*domain.TokenWithCode, error) {
	rdb := r.client.GetClient()
	members, err := rdb.ZRevRange(ctx, tokensKey(), 0, -1).Result()
	if err != nil {
		return nil, storeErr("list tokens", err)
	}
	if len(members) == 0 {
		return []*domain.TokenWithCode{}, nil
	}

	pipe := rdb.Pipeline()
	tokenCmds := make([]*goredis.MapStringStringCmd, len(members))
	for i, m := range members {
		tokenCmds[i] = pipe.HGetAll(ctx, tokenKey(m))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("list tokens", err)
	}
	tokens := make([]*domain.TokenWithCode, 0, len(members))
	for _, cmd := range tokenCmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		t, err := tokenFromHash(cmd.Val())
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, &domain.TokenWithCode{Token: t})
	}

	// 第二轮批量解析所属优惠码的 code，已删除的优惠码得到空字符串
	pipe = rdb.Pipeline()
	codeCmds := make([]*goredis.StringCmd, len(tokens))
	for i, t := range tokens {
		codeCmds[i] = pipe.HGet(ctx, codeKey(t.PromoCodeID), "code")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, storeErr("list tokens", err)
	}
	for i, cmd := range codeCmds {
		tokens[i].Code = cmd.Val()
	}
	domain.SortTokens(tokens)
	return tokens, nil
}

func promoCodeFromHash(fields map[string]string) (*domain.PromoCode, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, storeErr("decode promo code", errors.Wrapf(err, "parse id %q", fields["id"]))
	}
	return &domain.PromoCode{ID: id, Code: fields["code"], Description: fields["description"]}, nil
}

func tokenFromHash(fields map[string]string) (*domain.Token, error) {
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, storeErr("decode token", errors.Wrapf(err, "parse id %q", fields["id"]))
	}
	promoCodeID, err := strconv.ParseInt(fields["promo_code_id"], 10, 64)
	if err != nil {
		return nil, storeErr("decode token", errors.Wrapf(err, "parse promo_code_id %q", fields["promo_code_id"]))
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, storeErr("decode token", errors.Wrap(err, "parse created_at"))
	}
	t := &domain.Token{
		ID:          id,
		Token:       fields["token"],
		PromoCodeID: promoCodeID,
		Used:        fields["used"] == "1",
		CreatedAt:   createdAt,
	}
	if v := fields["used_at"]; v != "" {
		usedAt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, storeErr("decode token", errors.Wrap(err, "parse used_at"))
		}
		t.UsedAt = &usedAt
	}
	if v := fields["result"]; v != "" {
		t.Result = json.RawMessage(v)
	}
	return t, nil
}

var _ domain.Store = (*RedisStore)(nil)

// KEYS[1]: code_index, KEYS[2]: code_seq, KEYS[3]: code_ids
// ARGV[1]: code, ARGV[2]: description, ARGV[3]: key prefix
// 返回新 ID；code 已存在时返回 -1
var createCodeScript = `
if redis.call('hexists', KEYS[1], ARGV[1]) == 1 then
    return -1
end
local id = redis.call('incr', KEYS[2])
redis.call('hset', KEYS[1], ARGV[1], id)
redis.call('hset', ARGV[3] .. ':code:' .. id, 'id', id, 'code', ARGV[1], 'description', ARGV[2])
redis.call('sadd', KEYS[3], id)
return id
`

// KEYS[1]: code_index, KEYS[2]: code_ids, KEYS[3]: code hash
// ARGV[1]: id
var deleteCodeScript = `
local code = redis.call('hget', KEYS[3], 'code')
if not code then
    return 0
end
redis.call('del', KEYS[3])
redis.call('hdel', KEYS[1], code)
redis.call('srem', KEYS[2], ARGV[1])
return 1
`

// KEYS[1]: code_index, KEYS[2]: code_ids, KEYS[3]: code_seq
// ARGV[1]: key prefix, ARGV[2..]: code/description 成对出现
var replaceCodesScript = `
local ids = redis.call('smembers', KEYS[2])
for _, id in ipairs(ids) do
    redis.call('del', ARGV[1] .. ':code:' .. id)
end
redis.call('del', KEYS[1], KEYS[2])
for i = 2, #ARGV, 2 do
    local id = redis.call('incr', KEYS[3])
    redis.call('hset', KEYS[1], ARGV[i], id)
    redis.call('hset', ARGV[1] .. ':code:' .. id, 'id', id, 'code', ARGV[i], 'description', ARGV[i + 1])
    redis.call('sadd', KEYS[2], id)
end
return 1
`

// KEYS[1]: token hash, KEYS[2]: token_seq, KEYS[3]: tokens zset
// ARGV[1]: token, ARGV[2]: promo_code_id, ARGV[3]: created_at, ARGV[4]: created_at 毫秒（排序分值）
var createTokenScript = `
if redis.call('exists', KEYS[1]) == 1 then
    return -1
end
local id = redis.call('incr', KEYS[2])
redis.call('hset', KEYS[1], 'id', id, 'token', ARGV[1], 'promo_code_id', ARGV[2], 'used', '0', 'created_at', ARGV[3])
redis.call('zadd', KEYS[3], ARGV[4], ARGV[1])
return id
`

// KEYS[1]: token hash
// ARGV[1]: used_at, ARGV[2]: result
// 返回 1 成功, 0 不存在, 2 已被使用
var markUsedScript = `
if redis.call('exists', KEYS[1]) == 0 then
    return 0
end
if redis.call('hget', KEYS[1], 'used') == '1' then
    return 2
end
redis.call('hset', KEYS[1], 'used', '1', 'used_at', ARGV[1], 'result', ARGV[2])
return 1
`
